package blobstore

import (
	"path/filepath"
	"testing"

	"golang.org/x/crypto/blake2b"

	"nodegraph/internal/audit"
)

func TestWriteFinalizeReadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), 8, nil)
	if err != nil {
		t.Fatal(err)
	}
	dataID := DataID([]byte("node-id1"), []byte("client-pub"))
	nodeID1 := []byte("node-id1")

	chunks := [][]byte{[]byte("hello, "), []byte("frag"), []byte("mented world")}
	h, _ := blake2b.New256(nil)
	pos := int64(0)
	for _, c := range chunks {
		if err := s.WriteBlob(dataID, pos, c); err != nil {
			t.Fatal(err)
		}
		h.Write(c)
		pos += int64(len(c))
	}
	var want [32]byte
	copy(want[:], h.Sum(nil))

	if err := s.FinalizeWriteBlob(nodeID1, dataID, pos, want, 1000); err != nil {
		t.Fatalf("FinalizeWriteBlob: %v", err)
	}

	got, err := s.ReadBlob(nodeID1, 0, pos)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello, fragmented world" {
		t.Errorf("read back %q", got)
	}
}

func TestReadBlobCrossesFragmentBoundaries(t *testing.T) {
	s, err := NewStore(t.TempDir(), 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	dataID := DataID([]byte("a"), []byte("b"))
	nodeID1 := []byte("a")
	content := []byte("0123456789abcdef")
	if err := s.WriteBlob(dataID, 0, content); err != nil {
		t.Fatal(err)
	}
	sum := blake2b.Sum256(content)
	if err := s.FinalizeWriteBlob(nodeID1, dataID, int64(len(content)), sum, 1000); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadBlob(nodeID1, 3, 6)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "345678" {
		t.Errorf("ranged read = %q, want 345678", got)
	}

	tail, err := s.ReadBlob(nodeID1, 14, 10)
	if err != nil {
		t.Fatal(err)
	}
	if string(tail) != "ef" {
		t.Errorf("tail read = %q, want ef", tail)
	}
}

func TestWriteBlobOutOfOrderWithGapZeroFills(t *testing.T) {
	s, err := NewStore(t.TempDir(), 8, nil)
	if err != nil {
		t.Fatal(err)
	}
	dataID := DataID([]byte("a"), []byte("b"))
	nodeID1 := []byte("a")

	if err := s.WriteBlob(dataID, 4, []byte("late")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteBlob(dataID, 0, []byte("good")); err != nil {
		t.Fatal(err)
	}
	want := []byte("goodlate")
	sum := blake2b.Sum256(want)
	if err := s.FinalizeWriteBlob(nodeID1, dataID, int64(len(want)), sum, 1000); err != nil {
		t.Fatalf("FinalizeWriteBlob: %v", err)
	}
	got, err := s.ReadBlob(nodeID1, 0, int64(len(want)))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "goodlate" {
		t.Errorf("read back %q, want goodlate", got)
	}
}

func TestFinalizeHashMismatchDeletesFragments(t *testing.T) {
	s, err := NewStore(t.TempDir(), 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	dataID := DataID([]byte("a"), []byte("b"))
	nodeID1 := []byte("a")
	content := []byte("content")
	if err := s.WriteBlob(dataID, 0, content); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizeWriteBlob(nodeID1, dataID, int64(len(content)), [32]byte{}, 1000); err != ErrHashMismatch {
		t.Fatalf("err = %v, want ErrHashMismatch", err)
	}
	n, err := s.ReadBlobIntermediaryLength(dataID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("fragments should be discarded after a failed finalize, got %d bytes staged", n)
	}
}

func TestFinalizeLengthMismatch(t *testing.T) {
	s, err := NewStore(t.TempDir(), 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	dataID := DataID([]byte("a"), []byte("b"))
	nodeID1 := []byte("a")
	content := []byte("content")
	if err := s.WriteBlob(dataID, 0, content); err != nil {
		t.Fatal(err)
	}
	sum := blake2b.Sum256(content)
	if err := s.FinalizeWriteBlob(nodeID1, dataID, int64(len(content))+1, sum, 1000); err != ErrHashMismatch {
		t.Fatalf("err = %v, want ErrHashMismatch on length mismatch", err)
	}
}

func TestFinalizedFragmentIsWriteOnce(t *testing.T) {
	s, err := NewStore(t.TempDir(), 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	dataID := DataID([]byte("a"), []byte("b"))
	nodeID1 := []byte("a")
	content := []byte("content")
	if err := s.WriteBlob(dataID, 0, content); err != nil {
		t.Fatal(err)
	}
	sum := blake2b.Sum256(content)
	if err := s.FinalizeWriteBlob(nodeID1, dataID, int64(len(content)), sum, 1000); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteBlobFragment(dataID, 0, []byte("evil!!!")); err != nil {
		t.Fatalf("write after finalize should silently no-op, got error: %v", err)
	}
	got, err := s.ReadBlob(nodeID1, 0, int64(len(content)))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "content" {
		t.Errorf("finalized blob mutated by post-finalize write: %q", got)
	}
}

func TestStoreEmitsAuditEvents(t *testing.T) {
	s, err := NewStore(t.TempDir(), 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	trail, err := audit.Open(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer trail.Close()
	s.SetAuditTrail(trail)

	dataID := DataID([]byte("a"), []byte("b"))
	nodeID1 := []byte("a")
	content := []byte("content")
	if err := s.WriteBlob(dataID, 0, content); err != nil {
		t.Fatal(err)
	}
	sum := blake2b.Sum256(content)
	if err := s.FinalizeWriteBlob(nodeID1, dataID, int64(len(content)), sum, 1000); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteBlobs([][]byte{nodeID1}); err != nil {
		t.Fatal(err)
	}

	events, err := trail.Report()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}
	if events[0].Action != "blob.finalize" || events[1].Action != "blob.delete" {
		t.Errorf("unexpected event actions: %+v", events)
	}
}

func TestCopyBlobSharesDataIDAndDeleteGCsOnLastReference(t *testing.T) {
	s, err := NewStore(t.TempDir(), 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	dataID := DataID([]byte("src"), []byte("client"))
	srcID1 := []byte("src-node")
	dstID1 := []byte("dst-node")

	content := []byte("copy me")
	if err := s.WriteBlob(dataID, 0, content); err != nil {
		t.Fatal(err)
	}
	sum := blake2b.Sum256(content)
	if err := s.FinalizeWriteBlob(srcID1, dataID, int64(len(content)), sum, 1000); err != nil {
		t.Fatal(err)
	}

	ok, err := s.CopyBlob(srcID1, dstID1, 1001)
	if err != nil {
		t.Fatalf("CopyBlob: %v", err)
	}
	if !ok {
		t.Fatal("expected CopyBlob to succeed against a finalized src")
	}

	got, err := s.ReadBlob(dstID1, 0, int64(len(content)))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "copy me" {
		t.Errorf("copied content = %q", got)
	}

	// deleting src must not remove the physical blob while dst still
	// references the same dataId.
	if err := s.DeleteBlobs([][]byte{srcID1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadBlob(dstID1, 0, int64(len(content))); err != nil {
		t.Fatalf("dst should still read after src deleted: %v", err)
	}

	if err := s.DeleteBlobs([][]byte{dstID1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadBlob(dstID1, 0, int64(len(content))); err != ErrNotFinalized {
		t.Errorf("expected ErrNotFinalized after last reference deleted, got %v", err)
	}
}

func TestCopyBlobFailsWhenSrcNotFinalized(t *testing.T) {
	s, err := NewStore(t.TempDir(), 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.CopyBlob([]byte("never-written"), []byte("dst"), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("CopyBlob should report false for a non-finalized source")
	}
}
