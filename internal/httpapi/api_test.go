package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/ua3f-sub/internal/inject"
	"github.com/John-Robertt/ua3f-sub/internal/model"
)

const sampleSub = `# upstream header
mixed-port: 7890
proxies:
  - {name: HK, type: ss, server: hk.example.com, port: 8388, cipher: aes-128-gcm, password: pw}
proxy-groups:
  - name: Proxy
    type: select
    proxies: [HK, DIRECT]
  - name: Auto
    type: url-test
    proxies: [HK]
rules:
  - DOMAIN-SUFFIX,example.com,Proxy
  - GEOIP,CN,DIRECT
`

type upstream struct {
	*httptest.Server
	hits      atomic.Int32
	userAgent atomic.Value
}

func newUpstream(t *testing.T, status int, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.userAgent.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.Close)
	return u
}

func doGET(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func apiPath(subURL string, extra ...string) string {
	q := url.Values{}
	q.Set("url", subURL)
	for i := 0; i+1 < len(extra); i += 2 {
		q.Add(extra[i], extra[i+1])
	}
	return "/api?" + q.Encode()
}

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), "body=%q", rr.Body.String())
	return resp.Error
}

type outDoc struct {
	MixedPort int              `yaml:"mixed-port"`
	Proxies   []map[string]any `yaml:"proxies"`
	Groups    []struct {
		Name    string   `yaml:"name"`
		Proxies []string `yaml:"proxies"`
	} `yaml:"proxy-groups"`
	Rules []string `yaml:"rules"`
}

func TestAPI_OK(t *testing.T) {
	up := newUpstream(t, http.StatusOK, sampleSub)
	mux := NewMux(Options{})

	rr := doGET(t, mux, apiPath(up.URL, "server", "192.168.1.1", "port", "7891"),
		map[string]string{"User-Agent": "clash-verge/v1.7.7"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/yaml; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "clash-verge/v1.7.7", up.userAgent.Load())

	body := rr.Body.String()
	assert.Contains(t, body, "# upstream header")

	var out outDoc
	require.NoError(t, yaml.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, 7890, out.MixedPort)

	require.Len(t, out.Proxies, 2)
	injected := out.Proxies[1]
	assert.Equal(t, inject.ProxyName, injected["name"])
	assert.Equal(t, "socks5", injected["type"])
	assert.Equal(t, "192.168.1.1", injected["server"])
	assert.Equal(t, 7891, injected["port"])
	assert.Equal(t, false, injected["udp"])
	assert.Equal(t, inject.HealthCheckURL, injected["url"])

	require.Len(t, out.Groups, 2)
	assert.Equal(t, []string{"HK", "DIRECT", inject.ProxyName}, out.Groups[0].Proxies)
	assert.Equal(t, []string{"HK"}, out.Groups[1].Proxies)

	assert.Equal(t, []string{
		"PROCESS-NAME,ua3f,DIRECT",
		"DOMAIN-SUFFIX,example.com,Proxy",
		"GEOIP,CN,DIRECT",
		"MATCH," + inject.ProxyName,
	}, out.Rules)
}

func TestAPI_DefaultServerAndPort(t *testing.T) {
	up := newUpstream(t, http.StatusOK, sampleSub)
	rr := doGET(t, NewMux(Options{}), apiPath(up.URL, "server", "", "port", ""), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var out outDoc
	require.NoError(t, yaml.Unmarshal(rr.Body.Bytes(), &out))
	injected := out.Proxies[len(out.Proxies)-1]
	assert.Equal(t, "127.0.0.1", injected["server"])
	assert.Equal(t, 1080, injected["port"])
}

func TestAPI_InvalidQuery_NoUpstreamHit(t *testing.T) {
	up := newUpstream(t, http.StatusOK, sampleSub)
	mux := NewMux(Options{})

	tests := []struct {
		name    string
		target  string
		wantMsg string
	}{
		{"missing url", "/api", "url parameter is missing or not a string"},
		{"empty url", "/api?url=", "url parameter is missing or not a string"},
		{"duplicate url", "/api?url=" + url.QueryEscape(up.URL) + "&url=" + url.QueryEscape(up.URL), "url parameter is missing or not a string"},
		{"duplicate server", apiPath(up.URL, "server", "a", "server", "b"), "has multiple server parameter"},
		{"duplicate port", apiPath(up.URL, "port", "1", "port", "2"), "has multiple port parameter"},
		{"port not a number", apiPath(up.URL, "port", "socks"), "invalid port parameter"},
		{"port zero", apiPath(up.URL, "port", "0"), "invalid port parameter"},
		{"port too big", apiPath(up.URL, "port", "65536"), "invalid port parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doGET(t, mux, tt.target, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.wantMsg, decodeErrorBody(t, rr))
		})
	}
	assert.Zero(t, up.hits.Load())
}

func TestAPI_UnsupportedScheme(t *testing.T) {
	rr := doGET(t, NewMux(Options{}), apiPath("ftp://example.com/sub"), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeErrorBody(t, rr), "http/https")
}

func TestAPI_UpstreamStatusPassthrough(t *testing.T) {
	up := newUpstream(t, http.StatusNotFound, "no such subscription")
	rr := doGET(t, NewMux(Options{}), apiPath(up.URL), nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "failed to fetch "+up.URL+", code 404: no such subscription", decodeErrorBody(t, rr))
}

func TestAPI_UpstreamUnreachable(t *testing.T) {
	up := newUpstream(t, http.StatusOK, "")
	addr := up.URL
	up.Close()

	rr := doGET(t, NewMux(Options{}), apiPath(addr), nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, decodeErrorBody(t, rr), "failed to fetch")
}

func TestAPI_UpstreamTooLarge(t *testing.T) {
	up := newUpstream(t, http.StatusOK, sampleSub)
	rr := doGET(t, NewMux(Options{MaxBodyBytes: 16}), apiPath(up.URL), nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestAPI_ParseFailure(t *testing.T) {
	up := newUpstream(t, http.StatusOK, "proxies: [unclosed\n")
	rr := doGET(t, NewMux(Options{}), apiPath(up.URL), nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decodeErrorBody(t, rr), "failed to parse sub: ")
}

func TestAPI_DuplicateKeyIsParseFailure(t *testing.T) {
	up := newUpstream(t, http.StatusOK, "proxies: []\nproxy-groups: []\nrules: ['MATCH,A']\nrules: ['DOMAIN,x,DIRECT']\n")
	rr := doGET(t, NewMux(Options{}), apiPath(up.URL), nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decodeErrorBody(t, rr), "failed to parse sub: subscription is not valid YAML")
}

func TestAPI_ModifyFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no proxy-groups", "proxies: []\nrules: []\n", "failed to modify sub: proxy-groups is missing"},
		{"rules is a map", "proxies: []\nproxy-groups: []\nrules: {a: 1}\n", "failed to modify sub: rules is not a sequence"},
		{"not a mapping", "- a\n- b\n", "failed to modify sub: document root is not a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, http.StatusOK, tt.body)
			rr := doGET(t, NewMux(Options{}), apiPath(up.URL), nil)
			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, tt.want, decodeErrorBody(t, rr))
		})
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api?url=x", nil)
	rr := httptest.NewRecorder()
	NewMux(Options{}).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthz(t *testing.T) {
	rr := doGET(t, NewMux(Options{}), "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestParseAPIQuery(t *testing.T) {
	req, err := parseAPIQuery(url.Values{"url": {" https://example.com/s "}, "port": {"443"}})
	require.NoError(t, err)
	assert.Equal(t, apiRequest{URL: "https://example.com/s", Server: inject.DefaultServer, Port: 443}, req)

	_, err = parseAPIQuery(url.Values{})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Equal(t, stageValidateRequest, ae.AppError.Stage)
}
