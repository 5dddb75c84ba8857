package model

// ProxyEntry is one element of the proxies list.
//
// Protocol specific keys (cipher, password, plugin-opts, ...) land in Extra so
// decoding never drops them. Field order is the emitted key order.
type ProxyEntry struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`

	// URL is the health-check URL used by url-test style groups.
	URL string `yaml:"url,omitempty"`
	// UDP is a pointer so an explicit "udp: false" survives encoding.
	UDP *bool `yaml:"udp,omitempty"`

	Extra map[string]any `yaml:",inline"`
}
