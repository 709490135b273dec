package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"pewcms/internal/eventbus"
	rtsup "pewcms/internal/runtime/supervisor"
	"pewcms/internal/scheduler"
	logx "pewcms/pkg/logx"
)

const (
	maxHistory     = 100
	maxMessageLen  = 3500
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// Service queues alerts and delivers them through a Sender.
type Service struct {
	log    logx.Logger
	sender Sender

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	queue     chan string
	accepting bool
	sup       *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[uint64]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notifier")),
		sender: sender,
		dedup:  map[uint64]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if s.sender == nil || cfg.ChatID == 0 {
		cfg.Enabled = false
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Apply updates delivery settings. Queue size changes take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start launches the delivery worker. It is a no-op when disabled or
// already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue
	s.sup.GoRestart("notifier.worker", func(c context.Context) error {
		return s.worker(c, q)
	})
	s.log.Debug("notifier started", logx.Int64("chat_id", s.cfg.ChatID))
}

// Stop closes intake and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	s.accepting = false
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	close(q)
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("notifier stopped with error", logx.Err(err))
	}
	sup.Cancel()
}

// Notify enqueues text without blocking. Duplicates inside the dedup window
// are dropped silently.
func (s *Service) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		return ErrStopped
	}
	if !s.dedupAllow(text, s.cfg.DedupWindow) {
		return nil
	}
	select {
	case s.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// DeliverAlert implements logx.AlertSink.
func (s *Service) DeliverAlert(ctx context.Context, text string) error {
	return s.Notify(ctx, text)
}

func (s *Service) dedupAllow(text string, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	key := h.Sum64()
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	if len(s.dedup) > 1000 {
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func (s *Service) worker(ctx context.Context, q <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-q:
			if !ok {
				return nil
			}
			s.deliver(ctx, text)
		}
	}
}

func (s *Service) deliver(ctx context.Context, text string) {
	s.mu.Lock()
	cfg, limiter := s.cfg, s.limiter
	s.mu.Unlock()
	text = clipMessage(text, maxMessageLen)

	var err error
	delay := retryBaseDelay
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if err = limiter.Wait(ctx); err != nil {
			break
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = s.sender.SendText(sctx, cfg.ChatID, cfg.ThreadID, text)
		cancel()
		if err == nil || attempt == cfg.RetryMax {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(delay):
		}
		if ctx.Err() != nil {
			break
		}
		delay = min(delay*2, retryMaxDelay)
	}

	item := HistoryItem{At: time.Now(), Text: text}
	if err != nil {
		item.Error = err.Error()
		// Not logged at error level: that would feed back into the alert sink.
		s.log.Warn("alert delivery failed", logx.Err(err))
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.hmu.Unlock()
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// clipMessage cuts text to at most n bytes on a rune boundary and marks the
// cut with an ellipsis.
func clipMessage(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n] + "…"
}

// WatchDeadLetters forwards scheduler dead-letter events until ctx ends.
func (s *Service) WatchDeadLetters(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(32, eventbus.TypeScheduleDeadLetter)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			re, ok := ev.Data.(scheduler.RunEvent)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, FormatDeadLetter(re)); err != nil && !errors.Is(err, ErrDisabled) {
				s.log.Warn("dead letter alert not queued", logx.String("id", re.ScheduleID), logx.Err(err))
			}
		}
	}
}

// FormatDeadLetter renders the operator message for a quarantined entry.
func FormatDeadLetter(re scheduler.RunEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[DEAD LETTER] %s\n", re.Name)
	fmt.Fprintf(&b, "- id=%s\n", re.ScheduleID)
	fmt.Fprintf(&b, "- action=%s\n", re.ActionKey)
	owner := string(re.OwnerType)
	if re.OwnerID != "" {
		owner += ":" + re.OwnerID
	}
	fmt.Fprintf(&b, "- owner=%s\n", owner)
	if re.SiteID != nil {
		fmt.Fprintf(&b, "- site=%d\n", *re.SiteID)
	}
	fmt.Fprintf(&b, "- attempts=%d\n", re.RetryCount)
	if re.Error != "" {
		fmt.Fprintf(&b, "- error=%s\n", re.Error)
	}
	b.WriteString("Re-enable the entry to resume it.")
	return b.String()
}
