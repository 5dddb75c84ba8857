package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/ua3f-sub/internal/model"
)

const stage = "fetch_sub"

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxBytes     = 5 * 1024 * 1024
	DefaultMaxRedirects = 5

	// maxErrorBody caps how much of a non-2xx upstream body ends up in the message.
	maxErrorBody = 1024
)

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default 5 MiB
	MaxRedirects int           // default 5

	// UserAgent is forwarded upstream when non-empty. Subscription providers
	// pick the output format by client User-Agent.
	UserAgent string
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	return o
}

// FetchError carries the HTTP status the caller should answer with.
type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

func fetchError(status int, code, msg, rawURL string, cause error) error {
	return &FetchError{
		Status: status,
		AppError: model.AppError{
			Code:    code,
			Message: msg,
			Stage:   stage,
			URL:     rawURL,
		},
		Cause: cause,
	}
}

// Fetch downloads the subscription at rawURL and returns it as text.
//
// There is no retry: every failure is returned to the caller as a *FetchError.
func Fetch(ctx context.Context, rawURL string, opt Options) (string, error) {
	opt = opt.withDefaults()
	if opt.MaxBytes < 0 {
		return "", fetchError(http.StatusBadRequest, "INVALID_ARGUMENT", "max bytes must be positive", rawURL, nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fetchError(http.StatusBadRequest, "INVALID_ARGUMENT",
			"url must be an absolute http/https URL", rawURL, errors.Join(errInvalidURLOrScheme, err))
	}

	maxRedirects := opt.MaxRedirects
	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: http.DefaultTransport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 1st redirect => len(via)==1.
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fetchError(http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request url", rawURL, err)
	}
	if opt.UserAgent != "" {
		req.Header.Set("User-Agent", opt.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		if errors.Is(err, errTooManyRedirects) {
			return "", fetchError(http.StatusBadGateway, "FETCH_FAILED",
				fmt.Sprintf("failed to fetch %s: more than %d redirects", rawURL, maxRedirects), rawURL, err)
		}
		if errors.Is(err, errRedirectBadScheme) {
			return "", fetchError(http.StatusBadRequest, "INVALID_ARGUMENT",
				fmt.Sprintf("failed to fetch %s: redirect target must be http/https", rawURL), rawURL, err)
		}
		if isTimeout(err) {
			return "", fetchError(http.StatusGatewayTimeout, "FETCH_TIMEOUT",
				fmt.Sprintf("failed to fetch %s: timed out", rawURL), rawURL, err)
		}
		return "", fetchError(http.StatusBadGateway, "FETCH_FAILED",
			fmt.Sprintf("failed to fetch %s: %v", rawURL, err), rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Best effort: the upstream body often explains the failure (expired token, ...).
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fetchError(resp.StatusCode, "UPSTREAM_STATUS",
			fmt.Sprintf("failed to fetch %s, code %d: %s", rawURL, resp.StatusCode, strings.ToValidUTF8(string(body), "")),
			rawURL, nil)
	}

	// Read at most MaxBytes+1 to detect overflow deterministically.
	limit := opt.MaxBytes
	if limit < math.MaxInt64 {
		limit++
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		if isTimeout(err) {
			return "", fetchError(http.StatusGatewayTimeout, "FETCH_TIMEOUT",
				fmt.Sprintf("failed to fetch %s: timed out", rawURL), rawURL, err)
		}
		return "", fetchError(http.StatusBadGateway, "FETCH_FAILED",
			fmt.Sprintf("failed to read %s: %v", rawURL, err), rawURL, err)
	}
	if int64(len(body)) > opt.MaxBytes {
		return "", fetchError(http.StatusBadGateway, "TOO_LARGE",
			fmt.Sprintf("failed to fetch %s: response larger than %d bytes", rawURL, opt.MaxBytes), rawURL, nil)
	}
	if !utf8.Valid(body) {
		return "", fetchError(http.StatusBadGateway, "FETCH_INVALID_UTF8",
			fmt.Sprintf("failed to fetch %s: response is not valid UTF-8", rawURL), rawURL, nil)
	}

	return string(body), nil
}

func isTimeout(err error) bool {
	// Go may wrap errors (e.g. *url.Error).
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
