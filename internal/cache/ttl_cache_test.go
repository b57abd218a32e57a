package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/partnerledger/internal/clock"
)

type countingLoader struct {
	calls int
	value string
	found bool
	err   error
}

func (l *countingLoader) load() (string, bool, error) {
	l.calls++
	return l.value, l.found, l.err
}

func TestGetOrLoadCachesUntilExpiry(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	c := New[string, string](clk, 30*time.Second)
	l := &countingLoader{value: "true", found: true}

	for i := 0; i < 3; i++ {
		v, ok, err := c.GetOrLoad("PARTNER_PAYOUTS_ENABLED", l.load)
		if err != nil || !ok || v != "true" {
			t.Fatalf("unexpected result %q %v %v", v, ok, err)
		}
	}
	if l.calls != 1 {
		t.Fatalf("expected one load, got %d", l.calls)
	}

	clk.Advance(30 * time.Second)
	if _, _, err := c.GetOrLoad("PARTNER_PAYOUTS_ENABLED", l.load); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if l.calls != 2 {
		t.Fatalf("expected reload after expiry, got %d loads", l.calls)
	}
}

func TestGetOrLoadSkipsMissesAndErrors(t *testing.T) {
	c := New[string, string](clock.NewManual(time.Now()), time.Minute)

	missing := &countingLoader{}
	c.GetOrLoad("k", missing.load)
	c.GetOrLoad("k", missing.load)
	if missing.calls != 2 {
		t.Fatalf("misses must not be cached, got %d loads", missing.calls)
	}

	failing := &countingLoader{err: errors.New("db down")}
	if _, _, err := c.GetOrLoad("k", failing.load); err == nil {
		t.Fatal("expected loader error")
	}
	c.GetOrLoad("k", failing.load)
	if failing.calls != 2 {
		t.Fatalf("errors must not be cached, got %d loads", failing.calls)
	}
}

func TestInvalidate(t *testing.T) {
	c := New[string, int](nil, time.Minute)
	l := func(v int) Loader[int] { return func() (int, bool, error) { return v, true, nil } }

	c.GetOrLoad("k", l(1))
	c.Invalidate("k")
	if v, _, _ := c.GetOrLoad("k", l(2)); v != 2 {
		t.Fatalf("expected reload after invalidate, got %d", v)
	}
}
