// Package apperr provides the error taxonomy shared by the engine and its transports.
//
// Every expected failure is an *Error carrying a Kind (the coarse class a transport maps to a
// status) and a Code (a stable machine-readable reason). Anything that is not an *Error is
// treated as Internal.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the coarse error class.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindIllegalMove     Kind = "illegal_move"
	KindConflict        Kind = "conflict"
	KindInternal        Kind = "internal"
)

// Code is a machine-readable error reason.
type Code string

const (
	CodeUnauthenticated Code = "unauthenticated"
	CodeInternal        Code = "internal"

	// Request validation
	CodeInvalidRequest  Code = "invalid_request"
	CodeUnknownGameType Code = "unknown_game_type"
	CodeInvalidMetadata Code = "invalid_metadata"
	CodeInvalidStatus   Code = "invalid_status"
	CodeUnknownAction   Code = "unknown_action"
	CodeInvalidPayload  Code = "invalid_payload"
	CodeInvalidRole     Code = "invalid_role"
	CodeServerOwned     Code = "server_owned_state"

	// Visibility
	CodeGameNotFound    Code = "game_not_found"
	CodeNotAMember      Code = "not_a_member"
	CodeNotAParticipant Code = "not_a_participant"
	CodeOwnerOnly       Code = "owner_only"

	// Rules
	CodeNotYourTurn    Code = "not_your_turn"
	CodeIllegalMove    Code = "illegal_move"
	CodeNotStarted     Code = "game_not_started"
	CodeAlreadyActed   Code = "already_acted"
	CodeNotEnoughSeats Code = "not_enough_players"

	// State conflicts
	CodeGameAlreadyTerminal Code = "game_already_terminal"
	CodeVersionConflict     Code = "version_conflict"
	CodeAlreadyJoined       Code = "already_joined"
	CodeGameFull            Code = "game_full"
)

// Error is the domain error type.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a domain error around an underlying cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks. Matching is by code, so freshly built errors with a more
// specific message still match.
var (
	ErrUnauthenticated     = New(KindUnauthenticated, CodeUnauthenticated, "authentication required")
	ErrGameNotFound        = New(KindNotFound, CodeGameNotFound, "game not found")
	ErrNotAMember          = New(KindForbidden, CodeNotAMember, "not a member of this group")
	ErrNotAParticipant     = New(KindForbidden, CodeNotAParticipant, "not a participant in this game")
	ErrOwnerOnly           = New(KindForbidden, CodeOwnerOnly, "only the game owner may do that")
	ErrNotYourTurn         = New(KindIllegalMove, CodeNotYourTurn, "not your turn")
	ErrNotStarted          = New(KindIllegalMove, CodeNotStarted, "game has not started")
	ErrAlreadyActed        = New(KindIllegalMove, CodeAlreadyActed, "already responded")
	ErrGameAlreadyTerminal = New(KindConflict, CodeGameAlreadyTerminal, "game is already over")
	ErrVersionConflict     = New(KindConflict, CodeVersionConflict, "game changed since it was read")
	ErrAlreadyJoined       = New(KindConflict, CodeAlreadyJoined, "already joined this game")
	ErrGameFull            = New(KindConflict, CodeGameFull, "game is full")
)

// Validation builds a validation error.
func Validation(code Code, message string) *Error {
	return New(KindValidation, code, message)
}

// Illegal builds an illegal-move error with the generic illegal_move code.
func Illegal(message string) *Error {
	return New(KindIllegalMove, CodeIllegalMove, message)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to an HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindIllegalMove:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
