package event

import "errors"

// Protocol errors shared by the push, pull and handshake endpoints.
// Transport layers map them to status codes with errors.Is.
var (
	ErrMalformed        = errors.New("malformed request")
	ErrUnknownAction    = errors.New("invalid action")
	ErrUnknownSite      = errors.New("unknown site")
	ErrInvalidSignature = errors.New("Invalid Signature.")
	ErrInvalidData      = errors.New("Invalid Data")
)
