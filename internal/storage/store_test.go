package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pewcms/internal/schedule"
	logx "pewcms/pkg/logx"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "cms.db")
	}
	s, err := Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	s.now = func() time.Time { return testNow }
	return s
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func mustCreate(t *testing.T, s *Store, owner schedule.OwnerType, ownerID string, in schedule.Input) *schedule.Entry {
	t.Helper()
	e, err := s.CreateSchedule(context.Background(), owner, ownerID, in)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	return e
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()
	site := int64(7)

	created := mustCreate(t, s, schedule.OwnerPlugin, "seo", schedule.Input{
		SiteID:          &site,
		Name:            "  ping  ",
		ActionKey:       "seo.ping",
		Payload:         schedule.Payload{"url": "https://example.test"},
		RunEveryMinutes: 5000,
		MaxRetries:      intPtr(99),
	})
	if created.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	got, err := s.GetSchedule(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.Name != "ping" || got.ActionKey != "seo.ping" {
		t.Fatalf("unexpected identity: %q %q", got.Name, got.ActionKey)
	}
	if got.RunEveryMinutes != schedule.MaxRunEveryMinutes || got.MaxRetries != schedule.MaxMaxRetries {
		t.Fatalf("clamps not applied: every=%d retries=%d", got.RunEveryMinutes, got.MaxRetries)
	}
	if got.SiteID == nil || *got.SiteID != 7 {
		t.Fatalf("SiteID = %v, want 7", got.SiteID)
	}
	if got.Payload["url"] != "https://example.test" {
		t.Fatalf("payload not preserved: %v", got.Payload)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(testNow) {
		t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, testNow)
	}
	if !got.Enabled || got.DeadLettered || got.RetryCount != 0 {
		t.Fatalf("unexpected runtime state: %+v", got)
	}
}

func TestGetScheduleNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	if _, err := s.GetSchedule(context.Background(), "missing"); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateRejectsBlankName(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	_, err := s.CreateSchedule(context.Background(), schedule.OwnerCore, "", schedule.Input{Name: " ", ActionKey: "core.http_ping"})
	if !errors.Is(err, schedule.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSelectDueExcludesIneligible(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()
	past := testNow.Add(-time.Hour)
	older := testNow.Add(-2 * time.Hour)
	future := testNow.Add(time.Hour)

	due := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "due", ActionKey: "a", NextRunAt: &past})
	oldest := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "oldest", ActionKey: "a", NextRunAt: &older})
	mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "later", ActionKey: "a", NextRunAt: &future})
	mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "off", ActionKey: "a", NextRunAt: &past, Enabled: boolPtr(false)})
	dl := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "dl", ActionKey: "a", NextRunAt: &past})
	dlAt := testNow
	if err := s.ApplyTransition(ctx, dl.ID, schedule.Transition{
		FinalStatus: schedule.StatusDeadLetter, RetryCount: 4, DeadLettered: true, DeadLetteredAt: &dlAt, LastRunAt: testNow,
	}); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}

	got, err := s.SelectDue(ctx, testNow, 25)
	if err != nil {
		t.Fatalf("SelectDue: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != oldest.ID || got[1].ID != due.ID {
		t.Fatalf("unexpected order: %s, %s", got[0].Name, got[1].Name)
	}

	limited, err := s.SelectDue(ctx, testNow, 0)
	if err != nil {
		t.Fatalf("SelectDue: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit 0 should clamp to 1, got %d", len(limited))
	}
}

func TestApplyTransitionRejectsStaleRevision(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()
	past := testNow.Add(-time.Minute)
	e := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "n", ActionKey: "a", NextRunAt: &past})
	if e.Revision != 1 {
		t.Fatalf("new entry revision = %d, want 1", e.Revision)
	}

	first := schedule.Reconcile(*e, schedule.Outcome{Status: schedule.StatusError, Error: "x"}, testNow)
	second := schedule.Reconcile(*e, schedule.Outcome{Status: schedule.StatusSuccess}, testNow)
	if err := s.ApplyTransition(ctx, e.ID, first); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if err := s.ApplyTransition(ctx, e.ID, second); !errors.Is(err, schedule.ErrConflict) {
		t.Fatalf("stale transition err = %v, want ErrConflict", err)
	}
	got, err := s.GetSchedule(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 1 || got.LastStatus != schedule.StatusError || got.Revision != 2 {
		t.Fatalf("first write overwritten: %+v", got)
	}

	name := "renamed"
	if _, err := s.UpdateSchedule(ctx, e.ID, schedule.Patch{Name: &name}, schedule.SystemActor); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if err := s.ApplyTransition(ctx, e.ID, schedule.Reconcile(*got, schedule.Outcome{Status: schedule.StatusSuccess}, testNow)); !errors.Is(err, schedule.ErrConflict) {
		t.Fatalf("transition after update err = %v, want ErrConflict", err)
	}

	if err := s.ApplyTransition(ctx, "missing", first); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestSelectDueBoundaryIsInclusive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	at := testNow
	mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "now", ActionKey: "a", NextRunAt: &at})
	got, err := s.SelectDue(context.Background(), testNow, 10)
	if err != nil {
		t.Fatalf("SelectDue: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entry due exactly now should be selected, got %d", len(got))
	}
}

func TestListSchedulesOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()
	soon := testNow.Add(time.Minute)
	later := testNow.Add(time.Hour)

	b := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "later", ActionKey: "a", NextRunAt: &later})
	a := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "soon", ActionKey: "a", NextRunAt: &soon})
	dl := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "dl", ActionKey: "a", NextRunAt: &later})
	dlAt := testNow
	if err := s.ApplyTransition(ctx, dl.ID, schedule.Transition{
		FinalStatus: schedule.StatusDeadLetter, DeadLettered: true, DeadLetteredAt: &dlAt, LastRunAt: testNow,
	}); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	off := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "off", ActionKey: "a", Enabled: boolPtr(false)})

	got, err := s.ListSchedules(ctx, schedule.Filter{IncludeDisabled: true})
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	want := []string{dl.ID, off.ID, a.ID, b.ID}
	// off has next_run_at == testNow which sorts before soon.
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, got[i].Name, want[i])
		}
	}

	enabledOnly, err := s.ListSchedules(ctx, schedule.Filter{})
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(enabledOnly) != 3 {
		t.Fatalf("enabled only len = %d, want 3", len(enabledOnly))
	}
}

func TestListSchedulesFiltersOwner(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	mustCreate(t, s, schedule.OwnerPlugin, "seo", schedule.Input{Name: "one", ActionKey: "a"})
	mustCreate(t, s, schedule.OwnerPlugin, "forms", schedule.Input{Name: "two", ActionKey: "a"})
	mustCreate(t, s, schedule.OwnerTheme, "seo", schedule.Input{Name: "three", ActionKey: "a"})

	got, err := s.ListSchedules(context.Background(), schedule.Filter{OwnerType: schedule.OwnerPlugin, OwnerID: "seo"})
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(got) != 1 || got[0].Name != "one" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestUpdateScheduleAuthorization(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()
	e := mustCreate(t, s, schedule.OwnerPlugin, "seo", schedule.Input{Name: "ping", ActionKey: "a"})
	name := "renamed"

	stranger := schedule.Actor{OwnerType: schedule.OwnerPlugin, OwnerID: "forms"}
	if _, err := s.UpdateSchedule(ctx, e.ID, schedule.Patch{Name: &name}, stranger); !errors.Is(err, schedule.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if _, err := s.UpdateSchedule(ctx, "missing", schedule.Patch{Name: &name}, schedule.SystemActor); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	owner := schedule.Actor{OwnerType: schedule.OwnerPlugin, OwnerID: "seo"}
	got, err := s.UpdateSchedule(ctx, e.ID, schedule.Patch{Name: &name}, owner)
	if err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if got.Name != "renamed" || got.ActionKey != "a" {
		t.Fatalf("unexpected entry after update: %+v", got)
	}
}

func TestUpdateReenableClearsQuarantine(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()
	e := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "x", ActionKey: "a"})
	dlAt := testNow
	if err := s.ApplyTransition(ctx, e.ID, schedule.Transition{
		FinalStatus: schedule.StatusDeadLetter, RetryCount: 4, DeadLettered: true, DeadLetteredAt: &dlAt, LastRunAt: testNow,
	}); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}

	got, err := s.UpdateSchedule(ctx, e.ID, schedule.Patch{Enabled: boolPtr(true)}, schedule.SystemActor)
	if err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if got.DeadLettered || got.DeadLetteredAt != nil || got.RetryCount != 0 {
		t.Fatalf("quarantine not cleared: %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(testNow) {
		t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, testNow)
	}
}

func TestDeleteScheduleRemovesRuns(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()
	e := mustCreate(t, s, schedule.OwnerPlugin, "seo", schedule.Input{Name: "x", ActionKey: "a"})
	if _, err := s.AppendRun(ctx, schedule.RunRecord{ScheduleID: e.ID, Trigger: schedule.TriggerCron, Status: schedule.StatusSuccess, RetryAttempt: 1}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}

	if err := s.DeleteSchedule(ctx, e.ID, schedule.Actor{OwnerType: schedule.OwnerTheme, OwnerID: "seo"}); !errors.Is(err, schedule.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if err := s.DeleteSchedule(ctx, e.ID, schedule.SystemActor); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	if _, err := s.GetSchedule(ctx, e.ID); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("entry still present: %v", err)
	}
	runs, err := s.ListRuns(ctx, e.ID, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs not removed: %d", len(runs))
	}
	if err := s.DeleteSchedule(ctx, e.ID, schedule.SystemActor); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()
	e := mustCreate(t, s, schedule.OwnerCore, "", schedule.Input{Name: "x", ActionKey: "a"})
	statuses := []schedule.Status{schedule.StatusError, schedule.StatusError, schedule.StatusSuccess}
	for i, st := range statuses {
		if _, err := s.AppendRun(ctx, schedule.RunRecord{
			ScheduleID: e.ID, Trigger: schedule.TriggerCron, Status: st, RetryAttempt: i + 1,
			Error: "boom", Payload: schedule.Payload{"n": i},
		}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	runs, err := s.ListRuns(ctx, e.ID, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3", len(runs))
	}
	if runs[0].Status != schedule.StatusSuccess || runs[0].RetryAttempt != 3 {
		t.Fatalf("newest run first expected, got %+v", runs[0])
	}
	if runs[2].RetryAttempt != 1 || runs[2].Error != "boom" {
		t.Fatalf("oldest run last expected, got %+v", runs[2])
	}
}

func TestAppendRunRequiresExistingSchedule(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	_, err := s.AppendRun(context.Background(), schedule.RunRecord{ScheduleID: "missing", Trigger: schedule.TriggerCron, Status: schedule.StatusSuccess})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	ctx := context.Background()

	v, err := s.GetBool(ctx, SettingSchedulesEnabled, true)
	if err != nil || !v {
		t.Fatalf("missing key should yield default, got %v %v", v, err)
	}
	if err := s.EnsureDefault(ctx, SettingSchedulesEnabled, "false"); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	if err := s.EnsureDefault(ctx, SettingSchedulesEnabled, "true"); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	v, _ = s.GetBool(ctx, SettingSchedulesEnabled, true)
	if v {
		t.Fatal("EnsureDefault must not overwrite an existing value")
	}
	if err := s.SetBool(ctx, SettingSchedulesEnabled, true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	v, _ = s.GetBool(ctx, SettingSchedulesEnabled, false)
	if !v {
		t.Fatal("SetBool did not persist")
	}
	if err := s.SetString(ctx, "x", "garbage"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	v, _ = s.GetBool(ctx, "x", true)
	if !v {
		t.Fatal("unparseable bool should yield default")
	}
}

func TestLeaseLockExclusive(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shared.db")
	a := openTestStore(t, path)
	b := openTestStore(t, path)
	ctx := context.Background()

	ok, err := a.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first TryLock = %v, %v", ok, err)
	}
	if ok, _ := a.TryLock(ctx); ok {
		t.Fatal("lock must not be reentrant")
	}
	if ok, _ := b.TryLock(ctx); ok {
		t.Fatal("second holder acquired a held lock")
	}
	if err := b.Unlock(ctx); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("Unlock by non-holder err = %v", err)
	}
	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = b.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("TryLock after release = %v, %v", ok, err)
	}
	_ = b.Unlock(ctx)
}

func TestLeaseLockReclaimsExpired(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shared.db")
	a := openTestStore(t, path)
	b := openTestStore(t, path)
	ctx := context.Background()

	if ok, err := a.TryLock(ctx); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	b.now = func() time.Time { return testNow.Add(DefaultLockTTL + time.Second) }
	ok, err := b.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("expired lease should be reclaimed, got %v, %v", ok, err)
	}
	// a's release must not delete b's lease.
	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	c := openTestStore(t, path)
	c.now = b.now
	if ok, _ := c.TryLock(ctx); ok {
		t.Fatal("lease of the new holder was released by the old one")
	}
}

func TestLeaseRenewalKeepsLockPastTTL(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shared.db")
	a := openTestStore(t, path)
	b := openTestStore(t, path)
	ctx := context.Background()

	if ok, err := a.TryLock(ctx); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	// Renew just before expiry; the lease must outlive the original TTL.
	a.now = func() time.Time { return testNow.Add(DefaultLockTTL - time.Second) }
	if ok, err := a.RenewLock(ctx); err != nil || !ok {
		t.Fatalf("RenewLock = %v, %v", ok, err)
	}
	b.now = func() time.Time { return testNow.Add(DefaultLockTTL + time.Second) }
	if ok, _ := b.TryLock(ctx); ok {
		t.Fatal("renewed lease was taken over")
	}

	// Once the renewed lease expires and b claims it, a learns it lost the lock.
	b.now = func() time.Time { return testNow.Add(2 * DefaultLockTTL) }
	if ok, err := b.TryLock(ctx); err != nil || !ok {
		t.Fatalf("TryLock after expiry = %v, %v", ok, err)
	}
	if ok, err := a.RenewLock(ctx); err != nil || ok {
		t.Fatalf("RenewLock after takeover = %v, %v, want false", ok, err)
	}
	if err := a.Unlock(ctx); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("Unlock after loss err = %v", err)
	}
	if ok, _ := b.RenewLock(ctx); !ok {
		t.Fatal("new holder lost its lease")
	}
}

func TestRenewWithoutLock(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, "")
	if ok, err := s.RenewLock(context.Background()); err != nil || ok {
		t.Fatalf("RenewLock = %v, %v, want false", ok, err)
	}
}

func TestOpenRejectsBadPrefix(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "x.db"), TablePrefix: "cms;drop"}, logx.Nop())
	if err == nil {
		t.Fatal("expected invalid prefix error")
	}
}

func TestRebindPositional(t *testing.T) {
	t.Parallel()
	got := postgresDialect.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	if sqliteDialect.rebind("a = ?") != "a = ?" {
		t.Fatal("sqlite must keep ? placeholders")
	}
}
