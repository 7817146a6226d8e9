package netreplica

import "testing"

func TestEventCodecRoundTrip(t *testing.T) {
	codec := NewEventCodec()
	e := NetEvent{
		Destination: 42,
		TypeName:    "HealthEvent",
		EventID:     "Damaged",
		Properties: map[string]PropertyValue{
			"Amount": {Type: BasicNetTypeReal, Real: 12.5},
			"Source": {Type: BasicNetTypeCogReference, CogRef: 7},
		},
	}

	msg, err := codec.Encode(e)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	msg.Data.SetBitsRead(0)

	got, err := codec.Decode(msg.Data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Destination != e.Destination || got.TypeName != e.TypeName || got.EventID != e.EventID {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if got.Properties["Amount"].Real != 12.5 {
		t.Fatalf("expected Amount=12.5, got %v", got.Properties["Amount"])
	}
	if got.Properties["Source"].CogRef != 7 {
		t.Fatalf("expected Source cog ref 7, got %v", got.Properties["Source"])
	}
}

func TestEventDispatcherReportsMissingHandler(t *testing.T) {
	d := NewEventDispatcher(nil)
	err := d.Dispatch(NetEvent{TypeName: "Unregistered"})
	if err == nil {
		t.Fatalf("expected a ScriptError for an unregistered event type")
	}
	if _, ok := err.(*ScriptError); !ok {
		t.Fatalf("expected a *ScriptError, got %T", err)
	}
}

func TestEventDispatcherInvokesRegisteredHandler(t *testing.T) {
	d := NewEventDispatcher(nil)
	var got NetEvent
	d.On("HealthEvent", func(e NetEvent) { got = e })

	if err := d.Dispatch(NetEvent{TypeName: "HealthEvent", EventID: "Healed"}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got.EventID != "Healed" {
		t.Fatalf("handler did not receive the dispatched event")
	}
}
