package httpapi

import "net/http"

type api struct {
	opt     Options
	metrics *metrics
}

func newAPI(opt Options) *api {
	opt = opt.withDefaults()
	return &api{opt: opt, metrics: newMetrics(opt.Registry)}
}

// NewMux returns the bare routes without middleware.
func NewMux(opt Options) *http.ServeMux {
	return newAPI(opt).mux()
}

func (a *api) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /metrics", a.metrics.handleMetrics)
	mux.HandleFunc("GET /api", a.handleAPI)
	return mux
}
