package api

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is reported when a credential refresh fails and the
// session has been destroyed. Callers should send the user back to an
// unauthenticated view.
var ErrSessionExpired = errors.New("session expired")

// ErrNotAuthenticated is reported by operations that need a session
// before any request is sent.
var ErrNotAuthenticated = errors.New("not authenticated")

type Kind int

const (
	// KindNetwork: no response reached the client.
	KindNetwork Kind = iota
	// KindAuth: 401 or invalid credentials.
	KindAuth
	// KindValidation: client-side constraint violated; no request was sent.
	KindValidation
	// KindServer: non-401 error status with a server-supplied message.
	KindServer
)

type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "request failed", Err: err}
}

func authError(status int, message string, err error) *Error {
	return &Error{Kind: KindAuth, Status: status, Message: message, Err: err}
}

func serverError(status int, message string) *Error {
	return &Error{Kind: KindServer, Status: status, Message: message}
}

// Validationf builds a client-side validation error. These are raised
// before any request is issued and never reach the network layer.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func isKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func IsNetwork(err error) bool    { return isKind(err, KindNetwork) }
func IsAuth(err error) bool       { return isKind(err, KindAuth) }
func IsValidation(err error) bool { return isKind(err, KindValidation) }
func IsServer(err error) bool     { return isKind(err, KindServer) }
