package chat

import "errors"

var (
	ErrRegistryClosed = errors.New("chat: registry closed")
	ErrNilDeliver     = errors.New("chat: deliver function is nil")
	ErrSessionNotOpen = errors.New("chat: session not open")
	ErrSendBufferFull = errors.New("chat: send buffer full")
	ErrMalformedFrame = errors.New("chat: malformed frame")
	ErrPersistFailed  = errors.New("chat: message not persisted")
	ErrUnknownGroup   = errors.New("chat: unknown group")
)
