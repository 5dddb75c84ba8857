package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/ua3f-sub/internal/clash"
	"github.com/John-Robertt/ua3f-sub/internal/fetch"
	"github.com/John-Robertt/ua3f-sub/internal/inject"
	"github.com/John-Robertt/ua3f-sub/internal/model"
)

const stageValidateRequest = "validate_request"

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func requestError(message, hint string) error {
	return apiError(http.StatusBadRequest, model.AppError{
		Code:    "INVALID_ARGUMENT",
		Message: message,
		Stage:   stageValidateRequest,
		Hint:    hint,
	}, nil)
}

// classify maps err to the response status, the client-facing message and
// the AppError used for logs and metrics.
func classify(err error) (int, string, model.AppError) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status, ae.AppError.Message, ae.AppError
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe.Status, fe.AppError.Message, fe.AppError
	}

	var pe *clash.ParseError
	if errors.As(err, &pe) {
		return http.StatusInternalServerError, "failed to parse sub: " + withCause(pe.AppError.Message, pe.Cause), pe.AppError
	}

	var me *inject.MalformedDocumentError
	if errors.As(err, &me) {
		return http.StatusInternalServerError, "failed to modify sub: " + withCause(me.AppError.Message, me.Cause), me.AppError
	}

	var ee *clash.EncodeError
	if errors.As(err, &ee) {
		return http.StatusInternalServerError, "failed to encode sub: " + withCause(ee.AppError.Message, ee.Cause), ee.AppError
	}

	// Fallback: internal bug.
	return http.StatusInternalServerError, "internal server error", model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: err.Error(),
		Stage:   "internal",
	}
}

func withCause(msg string, cause error) string {
	if cause == nil {
		return msg
	}
	return msg + ": " + cause.Error()
}

// redactURL drops query, fragment and user info: subscription URLs usually
// carry an access token.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid url)"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func redactError(err error, rawURL string) string {
	s := err.Error()
	if rawURL == "" {
		return s
	}
	return strings.ReplaceAll(s, rawURL, redactURL(rawURL))
}

func (a *api) writeErrorFromErr(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	status, msg, app := classify(err)

	a.metrics.incAppError(app.Stage, app.Code)

	fields := []zap.Field{
		zap.String("request_id", requestIDFromContext(r.Context())),
		zap.String("stage", app.Stage),
		zap.String("code", app.Code),
		zap.Int("status", status),
		zap.String("error", redactError(err, app.URL)),
	}
	if app.URL != "" {
		fields = append(fields, zap.String("url", redactURL(app.URL)))
	}
	if app.Snippet != "" {
		fields = append(fields, zap.String("snippet", app.Snippet))
	}
	if app.Hint != "" {
		fields = append(fields, zap.String("hint", app.Hint))
	}
	if status >= http.StatusInternalServerError {
		a.opt.Logger.Error("request failed", fields...)
	} else {
		a.opt.Logger.Warn("request failed", fields...)
	}

	WriteError(w, status, msg)
}
