package schedule

import "errors"

var (
	ErrNotFound      = errors.New("schedule not found")
	ErrNotAuthorized = errors.New("not authorized to modify schedule")
	ErrInvalidInput  = errors.New("invalid schedule input")
	ErrConflict      = errors.New("schedule changed concurrently")
)
