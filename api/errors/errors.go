package errors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	mailerrors "github.com/customeros/mailbackend/internal/errors"
)

type MultiErrors struct {
	Errors map[string][]ErrorInfo
}

type ErrorInfo struct {
	Message  string
	RawError error
}

func NewMultiErrors() *MultiErrors {
	return &MultiErrors{
		Errors: make(map[string][]ErrorInfo),
	}
}

func (e *MultiErrors) Add(key, message string, err error) {
	e.Errors[key] = append(e.Errors[key], ErrorInfo{
		Message:  message,
		RawError: err,
	})
}

func (e *MultiErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *MultiErrors) Error() string {
	var parts []string
	for field, errors := range e.Errors {
		for _, err := range errors {
			parts = append(parts, fmt.Sprintf("%s: %s", field, err.Message))
		}
	}
	return strings.Join(parts, " | ")
}

// HTTPStatus maps backend errors onto response codes
func HTTPStatus(err error) int {
	var multi *MultiErrors
	var unsupported *mailerrors.UnsupportedAccountTypeError
	var auth *mailerrors.AuthenticationFailedError
	var messaging *mailerrors.MessagingError
	switch {
	case err == nil:
		return http.StatusOK
	case mailerrors.As(err, &multi):
		return http.StatusBadRequest
	case mailerrors.Is(err, mailerrors.ErrAccountNotFound),
		mailerrors.Is(err, mailerrors.ErrFolderNotFound),
		mailerrors.Is(err, mailerrors.ErrMessageNotFound):
		return http.StatusNotFound
	case mailerrors.Is(err, mailerrors.ErrUnsupportedOperation),
		mailerrors.Is(err, mailerrors.ErrInvalidStoreURI),
		mailerrors.Is(err, mailerrors.ErrNoFactory),
		mailerrors.As(err, &unsupported):
		return http.StatusUnprocessableEntity
	case mailerrors.As(err, &auth):
		return http.StatusUnauthorized
	case mailerrors.Is(err, context.DeadlineExceeded), mailerrors.Is(err, mailerrors.ErrConnectionTimeout):
		return http.StatusGatewayTimeout
	case mailerrors.IsPermanent(err):
		return http.StatusUnprocessableEntity
	case mailerrors.As(err, &messaging):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
