package services

import (
	"errors"
	"net/http"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

var (
	ErrSessionNotFound      = errors.New("presence_session_id not found")
	ErrMissingDeviceContext = errors.New("presence_session missing device context")
	ErrLinkNotFound         = errors.New("link not found")
	ErrInvalidRegistration  = errors.New("invalid registration_blob")
)

type ErrorKind int

const (
	KindMalformed ErrorKind = iota + 1
	KindAuthentication
	KindTemporal
	KindReplay
	KindPolicy
	KindConfiguration
	KindNotFound
)

func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindMalformed, KindTemporal:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindReplay:
		return http.StatusConflict
	case KindPolicy:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PresenceError is a rejection of a presence report. Reason is the auth
// result recorded in the forensic log, empty when nothing is logged.
type PresenceError struct {
	Kind    ErrorKind
	Reason  models.AuthResult
	Message string
}

func (e *PresenceError) Error() string {
	return e.Message
}

func newPresenceError(kind ErrorKind, reason models.AuthResult, msg string) *PresenceError {
	return &PresenceError{Kind: kind, Reason: reason, Message: msg}
}
