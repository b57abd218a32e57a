package logger

import (
	"net/http"
	"testing"
)

func TestMaskAuthorization(t *testing.T) {
	got := MaskAuthorization("Bearer abcdef1234")
	want := "Bearer ****1234"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMaskDestination(t *testing.T) {
	if got := MaskDestination("GB29NWBK60161331926819"); got != "****6819" {
		t.Fatalf("expected ****6819, got %q", got)
	}
	if got := MaskDestination("123"); got != "****" {
		t.Fatalf("expected short values fully masked, got %q", got)
	}
}

func TestMaskJSON(t *testing.T) {
	input := map[string]any{
		"payout_destination": "acct_000123456789",
		"external_event_id":  "evt_1",
		"partner": map[string]any{
			"account_number": "9876543210",
		},
	}
	masked := MaskJSON(input)
	if masked["payout_destination"] != "****6789" {
		t.Fatalf("expected masked destination, got %v", masked["payout_destination"])
	}
	if masked["external_event_id"] != "evt_1" {
		t.Fatalf("expected event id untouched, got %v", masked["external_event_id"])
	}
	nested, ok := masked["partner"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map")
	}
	if nested["account_number"] != "****3210" {
		t.Fatalf("expected masked account_number, got %v", nested["account_number"])
	}
}

func TestMaskHeadersMasksSignature(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Webhook-Signature", "sha256=deadbeefcafe")
	headers.Set("Content-Type", "application/json")

	masked := MaskHeaders(headers)
	if masked["X-Webhook-Signature"] != "****cafe" {
		t.Fatalf("expected masked signature, got %q", masked["X-Webhook-Signature"])
	}
	if masked["Content-Type"] != "application/json" {
		t.Fatalf("expected content type untouched, got %q", masked["Content-Type"])
	}
}
