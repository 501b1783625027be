package notify

import (
	"fmt"
	"testing"
)

type stubChannel struct {
	name string
	sent []Notification
	err  error
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Send(n Notification) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func TestManagerRoutesByName(t *testing.T) {
	m := NewManager()
	a := &stubChannel{name: "mobile_app_phone"}
	b := &stubChannel{name: "telegram"}
	m.Register(a)
	m.Register(b)

	m.Send("mobile_app_phone", Notification{Title: "hi"})

	if len(a.sent) != 1 || len(b.sent) != 0 {
		t.Errorf("sent counts = %d/%d, want 1/0", len(a.sent), len(b.sent))
	}
	if !m.Has("telegram") || m.Has("nope") {
		t.Error("Has() misreports registration")
	}
}

func TestManagerSwallowsFailures(t *testing.T) {
	m := NewManager()
	m.Register(&stubChannel{name: "flaky", err: fmt.Errorf("boom")})

	// Neither a failing channel nor an unknown one may panic or surface
	// an error to the caller.
	m.Send("flaky", Notification{Title: "hi"})
	m.Send("missing", Notification{Title: "hi"})
}

func TestAnnounceUsesLogChannel(t *testing.T) {
	m := NewManager()
	logCh := &stubChannel{name: "log"}
	m.Register(logCh)

	m.Announce(Notification{Title: "Medication Reminder: Aspirin"})

	if len(logCh.sent) != 1 {
		t.Fatalf("log channel sent = %d, want 1", len(logCh.sent))
	}
}

func TestAnnounceWithoutLogChannel(t *testing.T) {
	m := NewManager()
	// Falls back to the process log, must not panic.
	m.Announce(Notification{Title: "hi", Message: "there"})
}
