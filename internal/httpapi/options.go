package httpapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/John-Robertt/ua3f-sub/internal/fetch"
)

// Options controls HTTP API runtime behavior.
type Options struct {
	// ConvertTimeout bounds a single /api request (fetch + parse + inject + encode).
	ConvertTimeout time.Duration

	// FetchTimeout is the timeout of the upstream subscription request.
	FetchTimeout time.Duration

	// MaxBodyBytes caps the upstream subscription size.
	MaxBodyBytes int64

	// RateLimit is the global /api budget in requests per second; <= 0 disables it.
	RateLimit float64
	RateBurst int

	Logger *zap.Logger

	// Registry receives the HTTP metrics and backs GET /metrics.
	// A fresh registry is used when nil.
	Registry *prometheus.Registry
}

func (o Options) withDefaults() Options {
	if o.ConvertTimeout <= 0 {
		o.ConvertTimeout = 60 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = fetch.DefaultTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = fetch.DefaultMaxBytes
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 10
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	return o
}
