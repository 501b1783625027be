package medication

import (
	"errors"
	"sync"
	"testing"
	"time"

	"medication-reminder/internal/history"
	"medication-reminder/internal/notify"
	"medication-reminder/internal/scheduler"
	"medication-reminder/internal/state"
	"medication-reminder/internal/store"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// captureChannel records everything sent through it.
type captureChannel struct {
	mu   sync.Mutex
	name string
	sent []notify.Notification
}

func (c *captureChannel) Name() string { return c.name }

func (c *captureChannel) Send(n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureChannel) reminders() []notify.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Notification
	for _, n := range c.sent {
		if len(n.Actions) > 0 {
			out = append(out, n)
		}
	}
	return out
}

func (c *captureChannel) refillAlerts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.sent {
		if len(n.Actions) == 0 && n.Tag != "" {
			count++
		}
	}
	return count
}

type fixture struct {
	clock    *scheduler.ManualClock
	history  *history.Store
	notifier *notify.Manager
	capture  *captureChannel
	sink     *state.Registry
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	clock := scheduler.NewManualClock(testNow)
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	h := history.New(fs, clock)
	h.Load()

	capture := &captureChannel{name: "mobile_app_phone"}
	notifier := notify.NewManager()
	notifier.Register(capture)

	return &fixture{
		clock:    clock,
		history:  h,
		notifier: notifier,
		capture:  capture,
		sink:     state.NewRegistry(),
	}
}

func (f *fixture) newMedication(t *testing.T, cfg Config) *Medication {
	t.Helper()
	if cfg.NotifyServices == nil {
		cfg.NotifyServices = []string{f.capture.name}
	}
	m, err := New(cfg, f.history, f.notifier, f.sink, f.clock)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.Start()
	return m
}

func TestNewNormalizesConfig(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{
		Name:          "Vitamin D3!",
		Dose:          "1 tablet",
		Times:         []string{"8:00", "08:00", "20:30"},
		SnoozeMinutes: 9000,
	})

	if m.ID() != "medication.vitamin_d3" {
		t.Errorf("ID() = %q, want %q", m.ID(), "medication.vitamin_d3")
	}
	if m.EntryID() == "" {
		t.Error("EntryID() is empty")
	}
	cfg := m.Config()
	if len(cfg.Times) != 2 || cfg.Times[0] != "08:00" || cfg.Times[1] != "20:30" {
		t.Errorf("Times = %v, want [08:00 20:30]", cfg.Times)
	}
	if cfg.SnoozeMinutes != MaxSnoozeMinutes {
		t.Errorf("SnoozeMinutes = %d, want %d", cfg.SnoozeMinutes, MaxSnoozeMinutes)
	}
	if cfg.UnitsPerIntake != 1 {
		t.Errorf("UnitsPerIntake = %d, want 1", cfg.UnitsPerIntake)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	f := setupFixture(t)
	if _, err := New(Config{Times: []string{"08:00"}}, f.history, f.notifier, f.sink, f.clock); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := New(Config{Name: "Med", Times: []string{"25:00"}}, f.history, f.notifier, f.sink, f.clock); err == nil {
		t.Error("expected error for invalid time")
	}
}

func TestMarkTakenRecordsAndDecrementsRefill(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Dose: "100mg", Times: []string{"08:00"}})
	if err := m.RefillSet(intPtr(10), intPtr(2), intPtr(2)); err != nil {
		t.Fatalf("RefillSet() error = %v", err)
	}

	if err := m.Mark(StatusTaken); err != nil {
		t.Fatalf("Mark(Taken) error = %v", err)
	}

	if m.Status() != StatusTaken {
		t.Errorf("Status() = %q, want Taken", m.Status())
	}
	events := f.history.Recent(m.ID(), 0)
	if len(events) != 1 || events[0].Status != "Taken" {
		t.Fatalf("Recent() = %v, want one Taken event", events)
	}
	rec, ok := f.history.Refill(m.ID())
	if !ok || rec.Remaining != 8 {
		t.Errorf("Refill remaining = %d, want 8", rec.Remaining)
	}

	st, ok := f.sink.Get(m.ID())
	if !ok {
		t.Fatal("state not published")
	}
	if st.State != string(StatusTaken) {
		t.Errorf("published state = %q, want Taken", st.State)
	}
	if got := st.Attributes["refill_remaining"]; got != 8 {
		t.Errorf("refill_remaining attr = %v, want 8", got)
	}
}

func TestMarkSkippedRecordsWithoutRefillChange(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Times: []string{"08:00"}})
	if err := m.RefillSet(intPtr(10), nil, nil); err != nil {
		t.Fatalf("RefillSet() error = %v", err)
	}

	if err := m.Mark(StatusSkipped); err != nil {
		t.Fatalf("Mark(Skipped) error = %v", err)
	}

	events := f.history.Recent(m.ID(), 0)
	if len(events) != 1 || events[0].Status != "Skipped" {
		t.Fatalf("Recent() = %v, want one Skipped event", events)
	}
	if rec, _ := f.history.Refill(m.ID()); rec.Remaining != 10 {
		t.Errorf("Refill remaining = %d, want 10", rec.Remaining)
	}
}

func TestMarkPendingDoesNotRecord(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Times: []string{"08:00"}})

	if err := m.Mark(StatusPending); err != nil {
		t.Fatalf("Mark(Pending) error = %v", err)
	}
	if got := f.history.Recent(m.ID(), 0); len(got) != 0 {
		t.Errorf("Recent() = %v, want no events", got)
	}
	if m.Status() != StatusPending {
		t.Errorf("Status() = %q, want Pending", m.Status())
	}
}

func TestRefillAlertFiresOnceUntilRaised(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Times: []string{"08:00"}})
	if err := m.RefillSet(intPtr(10), intPtr(2), intPtr(2)); err != nil {
		t.Fatalf("RefillSet() error = %v", err)
	}

	// 10 -> 8 -> 6 -> 4 -> 2: the alert fires when remaining first
	// reaches the threshold.
	for i := 0; i < 4; i++ {
		if err := m.Mark(StatusTaken); err != nil {
			t.Fatalf("Mark(Taken) #%d error = %v", i, err)
		}
	}
	if got := f.capture.refillAlerts(); got != 1 {
		t.Fatalf("refill alerts after reaching threshold = %d, want 1", got)
	}
	st, _ := f.sink.Get(m.ID())
	if got := st.Attributes["refill_needed"]; got != true {
		t.Errorf("refill_needed = %v, want true", got)
	}

	// 2 -> 0: still below threshold but the latch holds, no new alert.
	if err := m.Mark(StatusTaken); err != nil {
		t.Fatalf("Mark(Taken) error = %v", err)
	}
	if got := f.capture.refillAlerts(); got != 1 {
		t.Fatalf("refill alerts while latched = %d, want 1", got)
	}

	// Raising the count clears the latch so the next crossing alerts again.
	if err := m.RefillAdd(4); err != nil {
		t.Fatalf("RefillAdd() error = %v", err)
	}
	if err := m.Mark(StatusTaken); err != nil {
		t.Fatalf("Mark(Taken) error = %v", err)
	}
	if got := f.capture.refillAlerts(); got != 2 {
		t.Errorf("refill alerts after refill = %d, want 2", got)
	}
}

func TestRefillAcknowledgeClearsLatch(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Times: []string{"08:00"}})
	if err := m.RefillSet(intPtr(2), intPtr(2), intPtr(1)); err != nil {
		t.Fatalf("RefillSet() error = %v", err)
	}

	if err := m.Mark(StatusTaken); err != nil {
		t.Fatalf("Mark(Taken) error = %v", err)
	}
	rec, _ := f.history.Refill(m.ID())
	if !rec.Alerted {
		t.Fatal("Alerted latch not set")
	}

	if err := m.RefillAcknowledge(); err != nil {
		t.Fatalf("RefillAcknowledge() error = %v", err)
	}
	rec, _ = f.history.Refill(m.ID())
	if rec.Alerted {
		t.Error("Alerted latch not cleared")
	}
}

func TestRefillAddSeedsFromConfigDefaults(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Times: []string{"08:00"}, RefillThreshold: 3, UnitsPerIntake: 2})

	if err := m.RefillAdd(30); err != nil {
		t.Fatalf("RefillAdd() error = %v", err)
	}
	rec, ok := f.history.Refill(m.ID())
	if !ok {
		t.Fatal("refill record not created")
	}
	if rec.Remaining != 30 || rec.Threshold != 3 || rec.UnitsPerIntake != 2 {
		t.Errorf("refill = %+v, want remaining 30, threshold 3, units 2", rec)
	}
}

func TestDailyReminderFiresAndReschedules(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Dose: "100mg", Times: []string{"08:00"}})

	// testNow is 12:00, so the first 08:00 fire is tomorrow.
	f.clock.Advance(20 * time.Hour)
	got := f.capture.reminders()
	if len(got) != 1 {
		t.Fatalf("reminders after first fire = %d, want 1", len(got))
	}
	n := got[0]
	if n.Title != "Medication Reminder: Aspirin" {
		t.Errorf("Title = %q", n.Title)
	}
	if n.Message != "Time to take 100mg (Aspirin)" {
		t.Errorf("Message = %q", n.Message)
	}
	if len(n.Actions) != 4 {
		t.Errorf("actions = %d, want 4", len(n.Actions))
	}
	if n.Data.EntityID != m.ID() {
		t.Errorf("Data.EntityID = %q, want %q", n.Data.EntityID, m.ID())
	}

	// The timer re-arms itself for the next day.
	f.clock.Advance(24 * time.Hour)
	if got := f.capture.reminders(); len(got) != 2 {
		t.Errorf("reminders after second fire = %d, want 2", len(got))
	}

	st, _ := f.sink.Get(m.ID())
	la, ok := st.Attributes["last_action"].(map[string]any)
	if !ok || la["status"] != "Reminder" {
		t.Errorf("last_action = %v, want Reminder", st.Attributes["last_action"])
	}
}

func TestSnoozeRefiresAfterDelay(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Dose: "100mg"})

	if err := m.Snooze(10); err != nil {
		t.Fatalf("Snooze() error = %v", err)
	}
	if m.Status() != StatusSnoozed {
		t.Errorf("Status() = %q, want Snoozed", m.Status())
	}
	events := f.history.Recent(m.ID(), 0)
	if len(events) != 1 || events[0].Status != "Snoozed" {
		t.Fatalf("Recent() = %v, want one Snoozed event", events)
	}

	f.clock.Advance(9 * time.Minute)
	if got := f.capture.reminders(); len(got) != 0 {
		t.Fatalf("reminder fired early: %d", len(got))
	}
	f.clock.Advance(time.Minute)
	if got := f.capture.reminders(); len(got) != 1 {
		t.Errorf("reminders after snooze delay = %d, want 1", len(got))
	}
}

func TestSnoozeReplacesPendingSnooze(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin"})

	if err := m.Snooze(10); err != nil {
		t.Fatalf("Snooze() error = %v", err)
	}
	if err := m.Snooze(30); err != nil {
		t.Fatalf("Snooze() error = %v", err)
	}

	f.clock.Advance(10 * time.Minute)
	if got := f.capture.reminders(); len(got) != 0 {
		t.Fatalf("replaced snooze still fired: %d", len(got))
	}
	f.clock.Advance(20 * time.Minute)
	if got := f.capture.reminders(); len(got) != 1 {
		t.Errorf("reminders = %d, want 1", len(got))
	}
}

func TestNagResendsUntilExhausted(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", NagIntervalMinutes: 5, NagMax: 2})

	m.sendReminder(false)
	if got := f.capture.reminders(); len(got) != 1 {
		t.Fatalf("initial reminders = %d, want 1", len(got))
	}

	f.clock.Advance(5 * time.Minute)
	if got := f.capture.reminders(); len(got) != 2 {
		t.Fatalf("reminders after first nag = %d, want 2", len(got))
	}
	f.clock.Advance(5 * time.Minute)
	if got := f.capture.reminders(); len(got) != 3 {
		t.Fatalf("reminders after second nag = %d, want 3", len(got))
	}

	// The budget is spent, no further resends.
	f.clock.Advance(time.Hour)
	if got := f.capture.reminders(); len(got) != 3 {
		t.Errorf("reminders after exhaustion = %d, want 3", len(got))
	}
}

func TestNagStopsOnTaken(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", NagIntervalMinutes: 5, NagMax: 10})

	m.sendReminder(false)
	f.clock.Advance(5 * time.Minute)
	if got := f.capture.reminders(); len(got) != 2 {
		t.Fatalf("reminders = %d, want 2", len(got))
	}

	if err := m.Mark(StatusTaken); err != nil {
		t.Fatalf("Mark(Taken) error = %v", err)
	}
	f.clock.Advance(time.Hour)
	if got := f.capture.reminders(); len(got) != 2 {
		t.Errorf("reminders after Taken = %d, want 2", len(got))
	}
}

func TestUpdateConfigRebuildsTimers(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Times: []string{"08:00"}})

	if err := m.UpdateConfig(ConfigUpdate{Times: []string{"09:00"}}); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}

	// The old 08:00 slot must be dead.
	f.clock.Advance(20 * time.Hour)
	if got := f.capture.reminders(); len(got) != 0 {
		t.Fatalf("old timer fired: %d", len(got))
	}
	f.clock.Advance(time.Hour)
	if got := f.capture.reminders(); len(got) != 1 {
		t.Errorf("reminders at new time = %d, want 1", len(got))
	}
}

func TestUpdateConfigRefillTotal(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Times: []string{"08:00"}, RefillThreshold: 5})

	total := 60
	if err := m.UpdateConfig(ConfigUpdate{RefillTotal: &total}); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	rec, ok := f.history.Refill(m.ID())
	if !ok || rec.Remaining != 60 || rec.Threshold != 5 {
		t.Errorf("refill = %+v, want remaining 60, threshold 5", rec)
	}
}

func TestCloseStopsTimersAndRemovesState(t *testing.T) {
	f := setupFixture(t)
	m := f.newMedication(t, Config{Name: "Aspirin", Times: []string{"08:00"}})

	m.Close()
	if _, ok := f.sink.Get(m.ID()); ok {
		t.Error("state still published after Close")
	}
	f.clock.Advance(48 * time.Hour)
	if got := f.capture.reminders(); len(got) != 0 {
		t.Errorf("reminders after Close = %d, want 0", len(got))
	}
	if err := m.Mark(StatusTaken); err == nil {
		t.Error("Mark() after Close should fail")
	}
}

func TestRegistry(t *testing.T) {
	f := setupFixture(t)
	reg := NewRegistry()
	m := f.newMedication(t, Config{Name: "Aspirin"})

	if err := reg.Add(m); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Add(m); err == nil {
		t.Error("duplicate Add() should fail")
	}

	got, err := reg.Get(m.ID())
	if err != nil || got != m {
		t.Errorf("Get() = %v, %v", got, err)
	}
	if _, err := reg.Get("medication.nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}

	if all := reg.All(); len(all) != 1 {
		t.Errorf("All() = %d entries, want 1", len(all))
	}
	if err := reg.Remove(m.ID()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := reg.Get(m.ID()); !errors.Is(err, ErrNotFound) {
		t.Error("medication still resolvable after Remove")
	}
}

func intPtr(v int) *int { return &v }
