package clash

import (
	"fmt"

	"github.com/John-Robertt/ua3f-sub/internal/model"
)

// ParseError is returned when the fetched text is not a single YAML document.
type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// EncodeError is returned when a document cannot be serialized back to YAML.
type EncodeError struct {
	AppError model.AppError
	Cause    error
}

func (e *EncodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *EncodeError) Unwrap() error { return e.Cause }
