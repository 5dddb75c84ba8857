package clash

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/ua3f-sub/internal/model"
)

const (
	KeyProxies     = "proxies"
	KeyProxyGroups = "proxy-groups"
	KeyRules       = "rules"
)

// Document is a parsed subscription config.
//
// It keeps the yaml.v3 node tree rather than a Go struct so that keys this
// package knows nothing about (dns, tun, rule-providers, ...) survive the
// round trip together with their order, comments and anchors.
type Document struct {
	doc *yaml.Node // yaml.DocumentNode
}

// Parse decodes exactly one YAML document from text.
//
// sourceURL is only used to annotate errors.
func Parse(sourceURL string, text string) (*Document, error) {
	dec := yaml.NewDecoder(strings.NewReader(text))

	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, parseError(sourceURL, text, "subscription is empty", nil)
		}
		return nil, parseError(sourceURL, text, "subscription is not valid YAML", err)
	}

	// The node API does not reject duplicate mapping keys; value decoding does.
	var v any
	if err := root.Decode(&v); err != nil {
		return nil, parseError(sourceURL, text, "subscription is not valid YAML", err)
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return nil, parseError(sourceURL, text, "multiple YAML documents are not allowed", nil)
	} else if !errors.Is(err, io.EOF) {
		return nil, parseError(sourceURL, text, "subscription is not valid YAML", err)
	}

	return &Document{doc: &root}, nil
}

func parseError(sourceURL, text, msg string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    "SUB_PARSE_ERROR",
			Message: msg,
			Stage:   "parse_sub",
			URL:     sourceURL,
			Snippet: truncateSnippet(text, 200),
		},
		Cause: cause,
	}
}

// Root returns the top-level value node (normally a mapping), or nil when the
// document has no content.
func (d *Document) Root() *yaml.Node {
	if d == nil || d.doc == nil {
		return nil
	}
	if d.doc.Kind != yaml.DocumentNode {
		return Resolve(d.doc)
	}
	if len(d.doc.Content) == 0 {
		return nil
	}
	return Resolve(d.doc.Content[0])
}

// Field returns the value node of a top-level key.
func (d *Document) Field(key string) (*yaml.Node, bool) {
	return Lookup(d.Root(), key)
}

// Proxies decodes the proxies list into typed entries.
func (d *Document) Proxies() ([]model.ProxyEntry, error) {
	var out []model.ProxyEntry
	if err := d.decodeField(KeyProxies, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProxyGroups decodes the proxy-groups list into typed entries.
func (d *Document) ProxyGroups() ([]model.ProxyGroup, error) {
	var out []model.ProxyGroup
	if err := d.decodeField(KeyProxyGroups, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Rules decodes the rules list.
func (d *Document) Rules() ([]string, error) {
	var out []string
	if err := d.decodeField(KeyRules, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Document) decodeField(key string, out any) error {
	n, ok := d.Field(key)
	if !ok {
		return fmt.Errorf("%s: missing", key)
	}
	if err := n.Decode(out); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Encode serializes the document with two-space indentation.
func (d *Document) Encode() (string, error) {
	if d == nil || d.doc == nil || (d.doc.Kind == yaml.DocumentNode && len(d.doc.Content) == 0) {
		return "", &EncodeError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "document is empty",
				Stage:   "encode_sub",
			},
		}
	}

	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(d.doc); err != nil {
		return "", &EncodeError{
			AppError: model.AppError{
				Code:    "SUB_ENCODE_ERROR",
				Message: "failed to encode subscription",
				Stage:   "encode_sub",
			},
			Cause: err,
		}
	}
	if err := enc.Close(); err != nil {
		return "", &EncodeError{
			AppError: model.AppError{
				Code:    "SUB_ENCODE_ERROR",
				Message: "failed to encode subscription",
				Stage:   "encode_sub",
			},
			Cause: err,
		}
	}
	return b.String(), nil
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	s = s[:max]
	// Don't cut a multi-byte rune in half.
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
