package netreplica

import "testing"

func TestMasterServerCapRejectsKPlusOnePublish(t *testing.T) {
	reg := NewMasterServerRegistry(2, DefaultHostRecordLifetimeMs, nil)

	if err := reg.Publish(1, "10.0.0.1:7000", []byte("a")); err != nil {
		t.Fatalf("first publish should succeed: %v", err)
	}
	if err := reg.Publish(2, "10.0.0.1:7000", []byte("b")); err != nil {
		t.Fatalf("second publish (different project, same ip) should succeed: %v", err)
	}
	if err := reg.Publish(3, "10.0.0.1:7000", []byte("c")); err != ErrHostRecordLimitReached {
		t.Fatalf("expected ErrHostRecordLimitReached on the 3rd record for one ip, got %v", err)
	}
}

func TestMasterServerPublishRefreshesExistingRecordAge(t *testing.T) {
	reg := NewMasterServerRegistry(4, 1000, nil)
	_ = reg.Publish(1, "10.0.0.1:7000", []byte("a"))
	reg.Tick(900)

	_ = reg.Publish(1, "10.0.0.1:7000", []byte("a-updated"))
	recs := reg.RecordsForProject(1)
	if len(recs) != 1 || recs[0].AgeMs != 0 {
		t.Fatalf("re-publishing an existing record should reset its age to 0, got %+v", recs)
	}
	if string(recs[0].BasicInfo) != "a-updated" {
		t.Fatalf("re-publishing should replace basic info")
	}
}

func TestMasterServerRecordExpiresAndDecrementsIPCount(t *testing.T) {
	var expired *HostRecord
	reg := NewMasterServerRegistry(1, 1000, nil)
	reg.OnExpired = func(rec *HostRecord) { expired = rec }

	_ = reg.Publish(1, "10.0.0.1:7000", []byte("a"))
	reg.Tick(500)
	if expired != nil {
		t.Fatalf("record should not expire before its lifetime")
	}
	reg.Tick(600)
	if expired == nil || expired.ProjectGuid != 1 {
		t.Fatalf("expected the record to expire and fire OnExpired")
	}

	if err := reg.Publish(2, "10.0.0.1:7000", []byte("b")); err != nil {
		t.Fatalf("after expiry the ip slot should be free again: %v", err)
	}
}

func TestMasterServerRemoveHostChecksMembershipBeforeDereference(t *testing.T) {
	reg := NewMasterServerRegistry(4, 1000, nil)
	if err := reg.RemoveHost(1, "10.0.0.1:7000"); err != ErrHostNotFound {
		t.Fatalf("expected ErrHostNotFound for a missing record, got %v", err)
	}

	_ = reg.Publish(1, "10.0.0.1:7000", []byte("a"))
	if err := reg.RemoveHost(1, "10.0.0.1:7000"); err != nil {
		t.Fatalf("removing an existing record should succeed: %v", err)
	}
	if _, ok := reg.Lookup(1, "10.0.0.1:7000"); ok {
		t.Fatalf("removed record should no longer be present")
	}
}

func TestMasterServerPublishRejectsOversizedBasicInfo(t *testing.T) {
	reg := NewMasterServerRegistry(4, 1000, nil)
	if err := reg.Publish(1, "10.0.0.1:7000", make([]byte, MaxBasicHostInfoLen)); err != nil {
		t.Fatalf("exactly 480 bytes should be accepted: %v", err)
	}
	if err := reg.Publish(2, "10.0.0.1:7000", make([]byte, MaxBasicHostInfoLen+1)); err != ErrBasicHostInfoTooLarge {
		t.Fatalf("expected ErrBasicHostInfoTooLarge over 480 bytes, got %v", err)
	}
}

func TestHostRecordListRoundTrip(t *testing.T) {
	records := []*HostRecord{
		{IP: "10.0.0.1:7000", BasicInfo: []byte("HELLO")},
		{IP: "10.0.0.2:7000", BasicInfo: []byte("WORLD")},
	}
	msg := EncodeHostRecordList(records)
	msg.Data.SetBitsRead(0)

	decoded, err := DecodeHostRecordList(msg.Data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 2 || decoded[0].IP != "10.0.0.1:7000" || string(decoded[1].BasicInfo) != "WORLD" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
