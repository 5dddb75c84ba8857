package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/ua3f-sub/internal/clash"
	"github.com/John-Robertt/ua3f-sub/internal/fetch"
	"github.com/John-Robertt/ua3f-sub/internal/inject"
)

type apiRequest struct {
	URL    string
	Server string
	Port   int
}

func (a *api) handleAPI(w http.ResponseWriter, r *http.Request) {
	req, err := parseAPIQuery(r.URL.Query())
	if err != nil {
		a.writeErrorFromErr(w, r, err)
		return
	}

	out, err := a.runConvert(r.Context(), r, req)
	if err != nil {
		a.writeErrorFromErr(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteYAML(w, http.StatusOK, out)
}

// parseAPIQuery validates the whole query before anything reaches upstream.
func parseAPIQuery(q url.Values) (apiRequest, error) {
	req := apiRequest{Server: inject.DefaultServer, Port: inject.DefaultPort}

	subURL, err := singleQuery(q, "url", true, "url parameter is missing or not a string")
	if err != nil {
		return apiRequest{}, err
	}
	req.URL = strings.TrimSpace(subURL)
	if req.URL == "" {
		return apiRequest{}, requestError("url parameter is missing or not a string", "expected: url=<subscription url>")
	}

	server, err := singleQuery(q, "server", false, "has multiple server parameter")
	if err != nil {
		return apiRequest{}, err
	}
	if s := strings.TrimSpace(server); s != "" {
		req.Server = s
	}

	port, err := singleQuery(q, "port", false, "has multiple port parameter")
	if err != nil {
		return apiRequest{}, err
	}
	if p := strings.TrimSpace(port); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return apiRequest{}, requestError("invalid port parameter", "expected: 1-65535, got "+strconv.Quote(p))
		}
		req.Port = n
	}
	return req, nil
}

// singleQuery returns the value of key, rejecting repeated keys with msg.
// A missing required key is rejected with msg as well.
func singleQuery(q url.Values, key string, required bool, msg string) (string, error) {
	values, ok := q[key]
	if !ok || len(values) == 0 {
		if required {
			return "", requestError(msg, fmt.Sprintf("expected: %s=<value>", key))
		}
		return "", nil
	}
	if len(values) != 1 {
		return "", requestError(msg, fmt.Sprintf("%s given %d times", key, len(values)))
	}
	return values[0], nil
}

func (a *api) runConvert(ctx context.Context, r *http.Request, req apiRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opt.ConvertTimeout)
	defer cancel()

	text, err := fetch.Fetch(ctx, req.URL, fetch.Options{
		Timeout:   a.opt.FetchTimeout,
		MaxBytes:  a.opt.MaxBodyBytes,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		return "", err
	}

	doc, err := clash.Parse(req.URL, text)
	if err != nil {
		return "", err
	}

	params := inject.DefaultParams()
	params.Server = req.Server
	params.Port = req.Port
	if err := inject.Apply(doc, params); err != nil {
		return "", err
	}

	if ce := a.opt.Logger.Check(zap.DebugLevel, "subscription transformed"); ce != nil {
		proxies, _ := doc.Proxies()
		groups, _ := doc.ProxyGroups()
		rules, _ := doc.Rules()
		ce.Write(
			zap.String("request_id", requestIDFromContext(ctx)),
			zap.String("url", redactURL(req.URL)),
			zap.String("server", req.Server),
			zap.Int("port", req.Port),
			zap.Int("proxies", len(proxies)),
			zap.Int("proxy_groups", len(groups)),
			zap.Int("rules", len(rules)),
		)
	}

	return doc.Encode()
}
