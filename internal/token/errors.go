package token

import "strings"

// Error is an authentication or claim-validation failure with a stable
// machine-readable code. Codes are part of the wire contract and never change
// between releases.
type Error struct {
	Code    string
	Message string
	// Missing lists the required scopes absent from the claim set. Only set
	// for MissingScope errors.
	Missing []string
}

func (e *Error) Error() string { return e.Message }

// Is matches errors by code so that dynamically built errors (missing-scope
// lists) still compare against the package sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrMissingToken is returned when no credential was presented at all.
	ErrMissingToken = &Error{Code: "MissingToken", Message: "no credential presented"}
	// ErrInvalidToken covers malformed tokens and signature failures.
	ErrInvalidToken = &Error{Code: "InvalidToken", Message: "token is malformed or its signature is invalid"}
	// ErrExpiredToken is returned for tokens past their validity window.
	ErrExpiredToken = &Error{Code: "ExpiredToken", Message: "token has expired"}
	// ErrWrongClient is returned on audience mismatch.
	ErrWrongClient = &Error{Code: "WrongClient", Message: "token is scoped to a different client application"}
	// ErrMissingScope is the sentinel for scope failures; concrete failures
	// carry the missing scope list (see MissingScopes).
	ErrMissingScope = &Error{Code: "MissingScope", Message: "required scope not granted"}
	// ErrBanned is returned when the account risk state forbids access.
	ErrBanned = &Error{Code: "Banned", Message: "account is banned"}
)

// MissingScopes builds a MissingScope error listing every absent scope.
func MissingScopes(missing []string) *Error {
	return &Error{
		Code:    ErrMissingScope.Code,
		Message: "missing required scopes: " + strings.Join(missing, ", "),
		Missing: missing,
	}
}
