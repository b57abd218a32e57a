package server

import (
	"testing"
	"time"
)

func TestWebhookLimiterWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 15, 0, time.UTC)
	l := newWebhookLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.take("10.0.0.1"); !ok {
			t.Fatalf("call %d should pass", i)
		}
	}
	ok, wait := l.take("10.0.0.1")
	if ok || wait != 45*time.Second {
		t.Fatalf("expected rejection with 45s wait, got %v %s", ok, wait)
	}
	if ok, _ := l.take("10.0.0.2"); !ok {
		t.Fatal("other addresses keep their own budget")
	}

	now = now.Add(45 * time.Second)
	if ok, _ := l.take("10.0.0.1"); !ok {
		t.Fatal("expected a fresh budget in the next window")
	}
}

func TestWebhookLimiterDisabled(t *testing.T) {
	l := newWebhookLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if ok, _ := l.take(""); !ok {
			t.Fatal("a zero limit must not reject")
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]string{
		0:                      "1",
		300 * time.Millisecond: "1",
		45 * time.Second:       "45",
		45*time.Second + 1:     "46",
	}
	for wait, want := range cases {
		if got := retryAfterSeconds(wait); got != want {
			t.Fatalf("retryAfterSeconds(%s) = %s, want %s", wait, got, want)
		}
	}
}
