package live

import "errors"

// Validation errors returned synchronously by session operations. They never
// mutate session state.
var (
	ErrDuplicatePresenter = errors.New("a presenter is already connected")
	ErrNotPresenter       = errors.New("connection is not the presenter")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrInvalidPosition    = errors.New("position does not resolve to content")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidMood        = errors.New("invalid mood")
)
