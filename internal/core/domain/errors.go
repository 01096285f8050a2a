package domain

import "errors"

var (
	ErrAlreadyRegistered   = errors.New("party already registered")
	ErrAlreadyBusy         = errors.New("party already busy")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrPeerUnreachable     = errors.New("peer unreachable")
	ErrSettlementShortfall = errors.New("settlement shortfall")
	ErrInvalidTransition   = errors.New("invalid session transition")
	ErrUnknownRole         = errors.New("unknown role")
	ErrUnknownKind         = errors.New("unknown session kind")
)

// ErrorCode maps a domain error to the wire-level code sent in error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrAlreadyBusy):
		return "already_busy"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownKind):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrPeerUnreachable):
		return "peer_unreachable"
	case errors.Is(err, ErrSettlementShortfall):
		return "settlement_shortfall"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	}
	return "internal"
}
