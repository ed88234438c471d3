package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// common errors
	ErrConnectionTimeout    = errors.New("connection timeout")
	ErrAccountNotFound      = errors.New("account not found")
	ErrUnsupportedOperation = errors.New("operation not supported by backend")

	// backend errors
	ErrBackendClosed   = errors.New("backend closed")
	ErrNoFactory       = errors.New("no backend factory registered")
	ErrInvalidStoreURI = errors.New("invalid store uri")

	// storage errors
	ErrFolderNotFound  = errors.New("folder not found")
	ErrMessageNotFound = errors.New("message not found")
)

// MessagingError is the single error kind crossing the backend boundary for transport and
// protocol failures. Permanent errors should not be retried by schedulers.
type MessagingError struct {
	Message   string
	Cause     error
	Permanent bool
}

func NewMessagingError(message string, cause error) *MessagingError {
	return &MessagingError{Message: message, Cause: cause}
}

func NewPermanentMessagingError(message string, cause error) *MessagingError {
	return &MessagingError{Message: message, Cause: cause, Permanent: true}
}

func (e *MessagingError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *MessagingError) Unwrap() error {
	return e.Cause
}

// UnsupportedAccountTypeError is a configuration error raised when no factory matches the
// account's protocol or legacy store uri.
type UnsupportedAccountTypeError struct {
	Type string
}

func (e *UnsupportedAccountTypeError) Error() string {
	return fmt.Sprintf("unsupported account type: %q", e.Type)
}

type AuthenticationFailedError struct {
	Username string
	Cause    error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Cause)
}

func (e *AuthenticationFailedError) Unwrap() error {
	return e.Cause
}

// Wrap turns any error into a MessagingError unless it already is one or is a sentinel
// the caller has to handle distinctly.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var me *MessagingError
	if errors.As(err, &me) {
		return err
	}
	var afe *AuthenticationFailedError
	if errors.As(err, &afe) {
		return err
	}
	if errors.Is(err, ErrFolderNotFound) {
		return err
	}
	return NewMessagingError(message, errors.WithStack(err))
}

func IsPermanent(err error) bool {
	var me *MessagingError
	if errors.As(err, &me) {
		return me.Permanent
	}
	var uat *UnsupportedAccountTypeError
	if errors.As(err, &uat) {
		return true
	}
	var afe *AuthenticationFailedError
	return errors.As(err, &afe)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
