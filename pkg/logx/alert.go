package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueSize   = 256
	alertSendTimeout = 10 * time.Second
	alertMaxLen      = 3500
	alertMaxFieldLen = 600
)

// AlertSink receives rendered alert text. Calls happen on a single worker
// goroutine, so a slow sink delays later alerts but never logging.
type AlertSink interface {
	DeliverAlert(ctx context.Context, text string) error
}

// alertRelay is a zerolog.LevelWriter that filters by level and rate, then
// hands lines to the sink asynchronously.
type alertRelay struct {
	mu       sync.Mutex
	sink     AlertSink
	minLevel Level
	limiter  *rate.Limiter

	queue   chan string
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newAlertRelay(sink AlertSink) *alertRelay {
	return &alertRelay{
		sink:     sink,
		minLevel: LevelError,
		queue:    make(chan string, alertQueueSize),
	}
}

func (r *alertRelay) setSink(sink AlertSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *alertRelay) configure(cfg AlertConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minLevel = parseLevel(cfg.MinLevel, LevelError)
	perSec := max(1, cfg.RatePerSec)
	r.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)

	if cfg.Enabled && !r.started {
		ctx, cancel := context.WithCancel(context.Background())
		r.started = true
		r.cancel = cancel
		r.done = make(chan struct{})
		go r.run(ctx)
	}
}

func (r *alertRelay) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *alertRelay) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-r.queue:
			r.mu.Lock()
			sink := r.sink
			r.mu.Unlock()
			if sink == nil {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, alertSendTimeout)
			_ = sink.DeliverAlert(sendCtx, text)
			cancel()
		}
	}
}

func (r *alertRelay) Write(p []byte) (int, error) {
	return r.WriteLevel(LevelInfo, p)
}

func (r *alertRelay) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	r.mu.Lock()
	pass := r.sink != nil && r.limiter != nil && level >= r.minLevel && r.limiter.Allow()
	r.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	text := formatAlertJSON(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case r.queue <- text:
	default:
	}
	return len(p), nil
}

// formatAlertJSON turns a JSON log line into "[LEVEL] message" plus one
// "- key=value" line per remaining field in key order. Non-JSON input is
// returned trimmed.
func formatAlertJSON(line []byte) string {
	line = bytes.TrimSpace(line)
	var rec map[string]any
	if err := json.Unmarshal(line, &rec); err != nil {
		return clip(string(line), alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := rec["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec["message"].(string)
	b.WriteString(msg)

	delete(rec, "time")
	delete(rec, "level")
	delete(rec, "message")
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), alertMaxFieldLen))
	}
	return clip(b.String(), alertMaxLen)
}

// clip shortens s to at most n bytes on a rune boundary, marking the cut
// with "..." when n allows.
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	mark := ""
	if n >= 10 {
		n -= 3
		mark = "..."
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + mark
}
