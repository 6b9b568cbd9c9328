package audit

import (
	"path/filepath"
	"testing"
)

func TestLogAndReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	trail, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer trail.Close()

	if err := trail.Log("node.store", map[string]string{"id1": "abc"}); err != nil {
		t.Fatal(err)
	}
	if err := trail.Log("node.delete", map[string]string{"id1": "abc"}); err != nil {
		t.Fatal(err)
	}

	events, err := trail.Report()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Action != "node.store" || events[1].Action != "node.delete" {
		t.Errorf("unexpected event order/actions: %+v", events)
	}
	if len(events[1].PrevHash) == 0 {
		t.Error("second event should chain from the first event's hash")
	}
}

func TestVerifyDetectsGoodChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	trail, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer trail.Close()
	for i := 0; i < 5; i++ {
		if err := trail.Log("event", nil); err != nil {
			t.Fatal(err)
		}
	}
	ok, err := trail.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected an untampered chain to verify")
	}
}

func TestReopenResumesHashChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	trail, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := trail.Log("first", nil); err != nil {
		t.Fatal(err)
	}
	if err := trail.Close(); err != nil {
		t.Fatal(err)
	}

	trail2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer trail2.Close()
	if err := trail2.Log("second", nil); err != nil {
		t.Fatal(err)
	}
	ok, err := trail2.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected chain to remain valid across reopen")
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	trail, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer trail.Close()
	if err := trail.Log("event", nil); err != nil {
		t.Fatal(err)
	}
	dest, checksum, err := trail.Archive(dir)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if dest == "" || checksum == "" {
		t.Error("expected non-empty archive destination and checksum")
	}
}
