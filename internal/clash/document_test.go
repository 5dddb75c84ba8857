package clash

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleSub = `# upstream header
mixed-port: 7890
allow-lan: false
dns:
  enable: true
  nameserver:
    - 223.5.5.5
proxies:
  - name: A
    type: ss
    server: a.example.com
    port: 8388
    cipher: aes-128-gcm
    password: "123456"
proxy-groups:
  - name: G1
    type: select
    proxies:
      - DIRECT
  - name: G2
    type: select
    proxies:
      - A
rules:
  - DOMAIN-SUFFIX,example.com,G2 # keep me
  - MATCH,A
`

func TestParse_OK(t *testing.T) {
	doc, err := Parse("https://example.com/sub.yaml", sampleSub)
	require.NoError(t, err)

	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, yaml.MappingNode, root.Kind)

	proxies, err := doc.Proxies()
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	assert.Equal(t, "A", proxies[0].Name)
	assert.Equal(t, "ss", proxies[0].Type)
	assert.Equal(t, 8388, proxies[0].Port)
	assert.Nil(t, proxies[0].UDP)
	assert.Equal(t, "123456", proxies[0].Extra["password"])
	assert.Equal(t, "aes-128-gcm", proxies[0].Extra["cipher"])

	groups, err := doc.ProxyGroups()
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"DIRECT"}, groups[0].Proxies)
	assert.Equal(t, []string{"A"}, groups[1].Proxies)

	rules, err := doc.Rules()
	require.NoError(t, err)
	assert.Equal(t, []string{"DOMAIN-SUFFIX,example.com,G2", "MATCH,A"}, rules)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"empty", "", "empty"},
		{"syntax", "proxies: [a, b\nrules: :", "not valid YAML"},
		{"multiple documents", "a: 1\n---\nb: 2\n", "multiple YAML documents"},
		{"duplicate top-level key", "proxies: []\nproxy-groups: []\nrules: ['MATCH,A']\nrules: ['DOMAIN,x,DIRECT']\n", "not valid YAML"},
		{"duplicate nested key", "proxy-groups:\n  - name: G\n    name: H\n", "not valid YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("https://example.com/sub.yaml", tt.in)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected *ParseError, got %T: %v", err, err)
			assert.Equal(t, "SUB_PARSE_ERROR", pe.AppError.Code)
			assert.Equal(t, "parse_sub", pe.AppError.Stage)
			assert.Equal(t, "https://example.com/sub.yaml", pe.AppError.URL)
			assert.Contains(t, pe.AppError.Message, tt.msg)
		})
	}
}

func TestDocument_Field(t *testing.T) {
	doc, err := Parse("", sampleSub)
	require.NoError(t, err)

	n, ok := doc.Field("mixed-port")
	require.True(t, ok)
	assert.Equal(t, "7890", n.Value)

	_, ok = doc.Field("tun")
	assert.False(t, ok)

	_, err = (&Document{}).Rules()
	assert.Error(t, err)
}

func TestEncode_RoundTripPreservesUnknownFieldsAndOrder(t *testing.T) {
	doc, err := Parse("", sampleSub)
	require.NoError(t, err)

	out, err := doc.Encode()
	require.NoError(t, err)

	assert.Contains(t, out, "# keep me")
	assert.Contains(t, out, "# upstream header")
	assertKeyOrder(t, out, "mixed-port:", "allow-lan:", "dns:", "proxies:", "proxy-groups:", "rules:")

	// Quoted numeric-looking strings must stay strings.
	var before, after map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(sampleSub), &before))
	require.NoError(t, yaml.Unmarshal([]byte(out), &after))
	assert.Equal(t, before, after)
}

func TestEncode_EmptyDocument(t *testing.T) {
	var d *Document
	_, err := d.Encode()
	var ee *EncodeError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "encode_sub", ee.AppError.Stage)
}

func TestTruncateSnippet(t *testing.T) {
	assert.Equal(t, "a b", truncateSnippet("a\r\nb", 10))
	assert.Equal(t, "", truncateSnippet("abc", 0))
	assert.Equal(t, "ab", truncateSnippet("abc", 2))

	// "🤗" is four bytes; cutting inside it must drop the partial rune.
	got := truncateSnippet("x🤗", 3)
	assert.Equal(t, "x", got)
}

func assertKeyOrder(t *testing.T, text string, keys ...string) {
	t.Helper()
	last := -1
	for _, k := range keys {
		i := strings.Index(text, "\n"+k)
		if i < 0 && strings.HasPrefix(text, k) {
			i = 0
		}
		require.GreaterOrEqual(t, i, 0, "key %q missing in:\n%s", k, text)
		require.Greater(t, i, last, "key %q out of order in:\n%s", k, text)
		last = i
	}
}
