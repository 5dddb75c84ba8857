package model

import "strings"

// MatchPrefix marks a catch-all rule. The routing engine evaluates rules
// first-match-wins, so a catch-all is conventionally last.
const MatchPrefix = "MATCH,"

type Rule struct {
	Type   string // e.g. "PROCESS-NAME", "DOMAIN-SUFFIX", "MATCH"
	Value  string // empty for MATCH
	Action string // DIRECT/REJECT/proxy or group name
}

func (r Rule) String() string {
	if r.Type == "MATCH" {
		return MatchPrefix + r.Action
	}
	return r.Type + "," + r.Value + "," + r.Action
}

// IsCatchAll reports whether raw starts with the literal "MATCH," prefix.
// The target is not validated.
func IsCatchAll(raw string) bool {
	return strings.HasPrefix(raw, MatchPrefix)
}
