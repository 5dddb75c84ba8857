package inject

import (
	"fmt"

	"github.com/John-Robertt/ua3f-sub/internal/model"
)

// MalformedDocumentError means the document lacks the shape Apply needs.
// It is always returned before any mutation.
type MalformedDocumentError struct {
	Path     string
	AppError model.AppError
	Cause    error
}

func (e *MalformedDocumentError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Cause }

func malformed(path, msg string, cause error) error {
	return &MalformedDocumentError{
		Path: path,
		AppError: model.AppError{
			Code:    "MALFORMED_DOCUMENT",
			Message: path + " " + msg,
			Stage:   "modify_sub",
		},
		Cause: cause,
	}
}
