package model

// ProxyGroup is a typed view of one proxy-groups entry. Proxies holds free-text
// references: proxy names, other group names, DIRECT or REJECT.
type ProxyGroup struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Proxies []string `yaml:"proxies,omitempty"`
}

