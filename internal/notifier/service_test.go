package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"pewcms/internal/eventbus"
	"pewcms/internal/schedule"
	"pewcms/internal/scheduler"
	logx "pewcms/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	fails int
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, _ int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram: 502")
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisabledWithoutChat(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &fakeSender{}, logx.Nop())
	if s.Enabled() {
		t.Fatal("notifier without chat id must be disabled")
	}
	if err := s.Notify(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{fails: 1}
	s := New(Config{Enabled: true, ChatID: 42, RatePerSec: 50, RetryMax: 2, DedupWindow: time.Minute}, snd, logx.Nop())
	ctx := context.Background()
	if err := s.Notify(ctx, "before start"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	s.Start(ctx)

	if err := s.Notify(ctx, "disk full"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := s.Notify(ctx, "disk full"); err != nil {
		t.Fatalf("duplicate Notify: %v", err)
	}
	if err := s.DeliverAlert(ctx, "other"); err != nil {
		t.Fatalf("DeliverAlert: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	got := snd.sent()
	if len(got) != 2 || got[0] != "disk full" || got[1] != "other" {
		t.Fatalf("sent = %v", got)
	}
	if h := s.History(); len(h) != 2 || h[0].Error != "" {
		t.Fatalf("history = %+v", h)
	}
	if err := s.Notify(ctx, "after stop"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestWatchDeadLetters(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(Config{Enabled: true, ChatID: 1, RatePerSec: 50}, snd, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	bus := eventbus.New()
	done := make(chan struct{})
	go func() {
		s.WatchDeadLetters(ctx, bus)
		close(done)
	}()

	site := int64(3)
	ev := scheduler.RunEvent{
		ScheduleID: "abc", Name: "Nightly purge", ActionKey: "core.comms_purge",
		OwnerType: schedule.OwnerCore, SiteID: &site, Status: schedule.StatusDeadLetter,
		Error: "db timeout", RetryCount: 4,
	}
	waitFor(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleDeadLetter, Data: ev})
		return len(snd.sent()) > 0
	})
	msg := snd.sent()[0]
	for _, want := range []string{"[DEAD LETTER] Nightly purge", "- id=abc", "- site=3", "- error=db timeout"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
	cancel()
	<-done
}

func TestClipMessageKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc…"},
		// "é" is two bytes; a cut at 2 would split it.
		{"aé", 2, "a…"},
		{"日本語", 4, "日…"},
		{"日本語", 6, "日本…"},
	}
	for _, tt := range tests {
		got := clipMessage(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("clipMessage(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("clipMessage(%q, %d) produced invalid UTF-8 %q", tt.in, tt.n, got)
		}
	}
}
