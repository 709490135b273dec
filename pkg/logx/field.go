package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field attaches one key to an event. Later fields with the same key win.
type Field func(e *zerolog.Event)

func String(key, val string) Field {
	return func(e *zerolog.Event) { e.Str(key, val) }
}

func Int(key string, val int) Field {
	return func(e *zerolog.Event) { e.Int(key, val) }
}

func Int64(key string, val int64) Field {
	return func(e *zerolog.Event) { e.Int64(key, val) }
}

func Uint64(key string, val uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(key, val) }
}

func Bool(key string, val bool) Field {
	return func(e *zerolog.Event) { e.Bool(key, val) }
}

func Duration(key string, val time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(key, val) }
}

func Time(key string, val time.Time) Field {
	return func(e *zerolog.Event) { e.Time(key, val) }
}

func Any(key string, val any) Field {
	return func(e *zerolog.Event) { e.Interface(key, val) }
}

// Err records err under "err". A nil error adds nothing.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

func applyFields(e *zerolog.Event, groups ...[]Field) {
	for _, fs := range groups {
		for _, f := range fs {
			if f != nil {
				f(e)
			}
		}
	}
}
