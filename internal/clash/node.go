package clash

import "gopkg.in/yaml.v3"

// maxMergeDepth bounds "<<" chains so a self-referencing anchor cannot recurse forever.
const maxMergeDepth = 16

// Resolve follows alias nodes to their anchored target.
func Resolve(n *yaml.Node) *yaml.Node {
	for i := 0; n != nil && n.Kind == yaml.AliasNode && i < maxMergeDepth; i++ {
		n = n.Alias
	}
	return n
}

// Lookup returns the value stored under key in mapping m.
//
// Explicit keys win over merged ones ("<<: *base"); among several merge
// sources the first listed wins. The returned node is not resolved, so a
// caller that mutates it should Resolve it first.
func Lookup(m *yaml.Node, key string) (*yaml.Node, bool) {
	return lookup(m, key, 0)
}

func lookup(m *yaml.Node, key string, depth int) (*yaml.Node, bool) {
	m = Resolve(m)
	if m == nil || m.Kind != yaml.MappingNode || depth > maxMergeDepth {
		return nil, false
	}

	var merges []*yaml.Node
	for i := 0; i+1 < len(m.Content); i += 2 {
		k := m.Content[i]
		if k.Kind != yaml.ScalarNode {
			continue
		}
		if isMergeKey(k) {
			merges = append(merges, m.Content[i+1])
			continue
		}
		if k.Value == key {
			return m.Content[i+1], true
		}
	}

	for _, src := range merges {
		for _, mm := range mergeSources(src) {
			if v, ok := lookup(mm, key, depth+1); ok {
				return v, true
			}
		}
	}
	return nil, false
}

func isMergeKey(k *yaml.Node) bool {
	return k.Kind == yaml.ScalarNode && k.Value == "<<" && k.ShortTag() == "!!merge"
}

func mergeSources(v *yaml.Node) []*yaml.Node {
	v = Resolve(v)
	if v == nil {
		return nil
	}
	switch v.Kind {
	case yaml.MappingNode:
		return []*yaml.Node{v}
	case yaml.SequenceNode:
		out := make([]*yaml.Node, 0, len(v.Content))
		for _, c := range v.Content {
			if r := Resolve(c); r != nil && r.Kind == yaml.MappingNode {
				out = append(out, r)
			}
		}
		return out
	default:
		return nil
	}
}

// IsScalar reports whether n (after alias resolution) is a non-null scalar.
func IsScalar(n *yaml.Node) bool {
	n = Resolve(n)
	return n != nil && n.Kind == yaml.ScalarNode && n.ShortTag() != "!!null"
}

// StringNode builds a plain string scalar; the encoder quotes it when needed.
func StringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
