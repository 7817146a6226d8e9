package netreplica

import "testing"

func TestOptionsWithDefaultsFillsZeroFields(t *testing.T) {
	o := Options{}.WithDefaults()

	if o.DisconnectGraceMs != DefaultDisconnectGraceMs {
		t.Fatalf("expected default disconnect grace, got %d", o.DisconnectGraceMs)
	}
	if o.PingIntervalMs != DefaultPingIntervalMs {
		t.Fatalf("expected default ping interval, got %d", o.PingIntervalMs)
	}
	if o.MaxMessageSize != DefaultMaxMessageSize {
		t.Fatalf("expected default max message size, got %d", o.MaxMessageSize)
	}
}

func TestOptionsWithDefaultsPreservesOverrides(t *testing.T) {
	o := Options{PingIntervalMs: 50}.WithDefaults()
	if o.PingIntervalMs != 50 {
		t.Fatalf("expected explicit override preserved, got %d", o.PingIntervalMs)
	}
	if o.DisconnectGraceMs != DefaultDisconnectGraceMs {
		t.Fatalf("expected untouched field to take its default")
	}
}
