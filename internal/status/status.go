package status

import "errors"

var (
	ErrDecodeFailed    = errors.New("codec: payload decode failed")
	ErrInvalidPayload  = errors.New("codec: payload structure invalid")
	ErrTicketNotFound  = errors.New("ticket: ticket not found")
	ErrTicketUsed      = errors.New("ticket: ticket already used")
	ErrDuplicateTicket = errors.New("ticket: duplicate ticket")
	ErrIssuanceRunning = errors.New("issuance: batch already running")
)
