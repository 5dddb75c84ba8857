// Package inject rewires a parsed subscription so that traffic is routed
// through a local UA3F SOCKS proxy.
//
// Apply is pure: no I/O, no logging, no shared state. It mutates the given
// document, and only after the whole document has been validated.
package inject

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/ua3f-sub/internal/clash"
	"github.com/John-Robertt/ua3f-sub/internal/model"
)

const (
	ProxyName      = "🤗 UA3F"
	ProcessName    = "ua3f"
	ProxyType      = "socks5"
	HealthCheckURL = "http://connectivitycheck.platform.hicloud.com/generate_204"

	DefaultServer = "127.0.0.1"
	DefaultPort   = 1080

	// Direct is the sentinel group reference meaning "no proxy".
	Direct = "DIRECT"
)

// Params describes the proxy to inject. Name, Type, HealthCheckURL and
// ProcessName are system constants; only Server and Port come from callers.
type Params struct {
	Name           string
	Server         string
	Port           int
	Type           string
	HealthCheckURL string
	UDP            bool
	ProcessName    string
}

// DefaultParams returns the UA3F proxy listening on 127.0.0.1:1080.
func DefaultParams() Params {
	return Params{
		Name:           ProxyName,
		Server:         DefaultServer,
		Port:           DefaultPort,
		Type:           ProxyType,
		HealthCheckURL: HealthCheckURL,
		UDP:            false,
		ProcessName:    ProcessName,
	}
}

func (p Params) Validate() error {
	switch {
	case p.Name == "":
		return malformed("params.name", "must not be empty", nil)
	case p.Server == "":
		return malformed("params.server", "must not be empty", nil)
	case p.Port < 1 || p.Port > 65535:
		return malformed("params.port", "must be within 1-65535, got "+strconv.Itoa(p.Port), nil)
	case p.ProcessName == "":
		return malformed("params.process-name", "must not be empty", nil)
	}
	return nil
}

// Entry is the proxies element Apply appends.
func (p Params) Entry() model.ProxyEntry {
	udp := p.UDP
	return model.ProxyEntry{
		Name:   p.Name,
		Type:   p.Type,
		Server: p.Server,
		Port:   p.Port,
		URL:    p.HealthCheckURL,
		UDP:    &udp,
	}
}

// OverrideRule keeps the UA3F process itself off the injected proxy.
func (p Params) OverrideRule() string {
	return model.Rule{Type: "PROCESS-NAME", Value: p.ProcessName, Action: Direct}.String()
}

// CatchAllRule sends otherwise unmatched traffic to the injected proxy.
func (p Params) CatchAllRule() string {
	return model.Rule{Type: "MATCH", Action: p.Name}.String()
}

// plan is everything Apply needs, collected before the first mutation.
type plan struct {
	proxies *yaml.Node
	rules   *yaml.Node
	attach  []*yaml.Node // group reference sequences that get p.Name
}

// Apply injects the proxy described by p into doc:
//
//  1. the proxy entry is appended to proxies;
//  2. every group referencing DIRECT (and not yet p.Name) gets p.Name appended;
//  3. "PROCESS-NAME,<process>,DIRECT" is prepended to rules;
//  4. "MATCH,<name>" is appended unless the last rule already starts with "MATCH,".
//
// Applying twice duplicates the proxy entry and the override rule; group
// references never duplicate. An existing proxy with the same name is left
// alone. On error doc is unchanged.
func Apply(doc *clash.Document, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}

	pl, err := validate(doc, p)
	if err != nil {
		return err
	}

	entry := &yaml.Node{}
	if err := entry.Encode(p.Entry()); err != nil {
		return malformed(clash.KeyProxies, "cannot build proxy entry", err)
	}
	pl.proxies.Content = append(pl.proxies.Content, entry)

	for _, refs := range pl.attach {
		// Several groups may share one anchored sequence.
		if !hasRef(refs, p.Name) {
			refs.Content = append(refs.Content, clash.StringNode(p.Name))
		}
	}

	pl.rules.Content = append([]*yaml.Node{clash.StringNode(p.OverrideRule())}, pl.rules.Content...)
	last := clash.Resolve(pl.rules.Content[len(pl.rules.Content)-1])
	if !model.IsCatchAll(last.Value) {
		pl.rules.Content = append(pl.rules.Content, clash.StringNode(p.CatchAllRule()))
	}
	return nil
}

func validate(doc *clash.Document, p Params) (plan, error) {
	root := doc.Root()
	if root == nil || root.Kind != yaml.MappingNode {
		return plan{}, malformed("document", "root is not a mapping", nil)
	}

	proxies, err := sequenceField(root, clash.KeyProxies)
	if err != nil {
		return plan{}, err
	}
	groups, err := sequenceField(root, clash.KeyProxyGroups)
	if err != nil {
		return plan{}, err
	}
	rules, err := sequenceField(root, clash.KeyRules)
	if err != nil {
		return plan{}, err
	}

	pl := plan{proxies: proxies, rules: rules}
	for i, g := range groups.Content {
		path := fmt.Sprintf("%s[%d]", clash.KeyProxyGroups, i)
		g = clash.Resolve(g)
		if g == nil || g.Kind != yaml.MappingNode {
			return plan{}, malformed(path, "is not a mapping", nil)
		}
		v, ok := clash.Lookup(g, "proxies")
		if !ok {
			// Provider-only group ("use:"), nothing to attach to.
			continue
		}
		refs := clash.Resolve(v)
		if refs == nil || refs.Kind != yaml.SequenceNode {
			return plan{}, malformed(path+".proxies", "is not a sequence", nil)
		}
		if hasRef(refs, Direct) && !hasRef(refs, p.Name) {
			pl.attach = append(pl.attach, refs)
		}
	}

	for i, r := range rules.Content {
		if !clash.IsScalar(r) {
			return plan{}, malformed(fmt.Sprintf("%s[%d]", clash.KeyRules, i), "is not a string", nil)
		}
	}
	return pl, nil
}

func sequenceField(root *yaml.Node, key string) (*yaml.Node, error) {
	v, ok := clash.Lookup(root, key)
	if !ok {
		return nil, malformed(key, "is missing", nil)
	}
	v = clash.Resolve(v)
	if v == nil || v.Kind != yaml.SequenceNode {
		return nil, malformed(key, "is not a sequence", nil)
	}
	return v, nil
}

func hasRef(refs *yaml.Node, name string) bool {
	for _, c := range refs.Content {
		c = clash.Resolve(c)
		if c != nil && c.Kind == yaml.ScalarNode && c.Value == name {
			return true
		}
	}
	return false
}
