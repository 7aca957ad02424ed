package main

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestParseBridgeLine(t *testing.T) {
	tests := []struct {
		line   string
		want   PresenceSample
		wantOK bool
	}{
		{"C1:98:CC:E4", Present(cardA), true},
		{"c1 98 cc e4\r", Present(cardA), true},
		{"UID: C1 98 CC E4", Present(cardA), true},
		{"uid=c198cce4", Present(cardA), true},
		{"-", Absent(), true},
		{"none", Absent(), true},
		{"", Absent(), true},
		{"RC522 init ok", Absent(), false},
	}
	for _, tt := range tests {
		got, ok := parseBridgeLine(tt.line)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseBridgeLine(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSerialCardSource_LatestLineWithinStaleWindow(t *testing.T) {
	pr, pw := io.Pipe()
	clock := &fakeClock{now: time.Unix(1000, 0)}

	src := newSerialCardSource(pr, 300*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)), clock.Now)
	defer src.Close()

	if got := src.Poll(); got.Present {
		t.Fatalf("expected absent before any line, got %v", got)
	}

	if _, err := io.WriteString(pw, "C1:98:CC:E4\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, 500*time.Millisecond, func() bool {
		return src.Poll() == Present(cardA)
	}, "card line not picked up")

	// Still fresh: the same report holds across several polls.
	clock.Advance(200 * time.Millisecond)
	if got := src.Poll(); got != Present(cardA) {
		t.Fatalf("expected card within stale window, got %v", got)
	}

	// Bridge went quiet: the report expires.
	clock.Advance(200 * time.Millisecond)
	if got := src.Poll(); got.Present {
		t.Fatalf("expected stale report to read as absent, got %v", got)
	}

	// An explicit "no card" line replaces a fresh card report.
	if _, err := io.WriteString(pw, "C1:98:CC:E4\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, 500*time.Millisecond, func() bool {
		return src.Poll() == Present(cardA)
	}, "second card line not picked up")
	if _, err := io.WriteString(pw, "-\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, 500*time.Millisecond, func() bool {
		return src.Poll() == Absent()
	}, "absent line not picked up")
}

func TestSerialCardSource_CloseStopsReadLoop(t *testing.T) {
	pr, _ := io.Pipe()
	src := newSerialCardSource(pr, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Now)

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-src.Done():
	case <-time.After(time.Second):
		t.Fatalf("read loop did not exit after Close")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
