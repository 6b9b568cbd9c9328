// Package blobstore implements fragmented, content-verified blob storage
// (C7): a node can reference bulk data too large for the Model codec
// through its blobHash/blobLength fields, and the bytes live here keyed
// by dataId = H(nodeId1 || clientPublicKey). Modeled on a chunked
// IPFS/Arweave gateway, reworked from a remote pinning gateway into a local
// fragmented-write/finalize/read store.
//
// Two identities are in play: dataId addresses the physical bytes, nodeId1
// addresses a caller's claim on those bytes. copyBlob lets two nodeId1s
// share one dataId without duplicating storage; deleteBlobs drops a
// nodeId1's claim and garbage-collects the dataId once nothing references
// it anymore.
package blobstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"nodegraph/internal/audit"
)

const defaultFragmentSize = 1 << 20 // 1 MiB

// Store is a filesystem-backed blob store. One Store instance should be
// shared by all writers/readers of a given directory.
type Store struct {
	dir          string
	fragmentSize int
	log          *zap.Logger
	audit        *audit.Trail
}

// SetAuditTrail attaches an audit trail (C12); FinalizeWriteBlob and
// DeleteBlobs each then emit one event naming the affected ids, mirroring
// storage.Driver's SetAuditTrail.
func (s *Store) SetAuditTrail(t *audit.Trail) { s.audit = t }

func (s *Store) logAudit(action string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(action, meta); err != nil {
		s.log.Warn("audit log write failed", zap.Error(err))
	}
}

// NewStore opens (creating if needed) a blob store rooted at dir.
func NewStore(dir string, fragmentSize int, log *zap.Logger) (*Store, error) {
	if fragmentSize <= 0 {
		fragmentSize = defaultFragmentSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, fragmentSize: fragmentSize, log: log}, nil
}

func (s *Store) key(dataID [32]byte) string { return hex.EncodeToString(dataID[:]) }

func (s *Store) blobPath(dataID [32]byte) string {
	k := s.key(dataID)
	return filepath.Join(s.dir, k[:2], k, "blob")
}

func (s *Store) fragDir(dataID [32]byte) string {
	k := s.key(dataID)
	return filepath.Join(s.dir, k[:2], k, "fragments")
}

func (s *Store) fragPath(dataID [32]byte, index uint32) string {
	return filepath.Join(s.fragDir(dataID), strconv.FormatUint(uint64(index), 10))
}

// finalizedMeta is the blob_finalized row for one nodeId1: the dataId it
// currently resolves to, and the length/hash/now recorded at finalize time.
type finalizedMeta struct {
	DataID string `json:"dataId"`
	Length int64  `json:"length"`
	Hash   string `json:"hash"`
	Now    uint64 `json:"now"`
}

func (s *Store) metaDir() string { return filepath.Join(s.dir, "finalized") }

func (s *Store) metaPath(nodeID1 []byte) string {
	return filepath.Join(s.metaDir(), hex.EncodeToString(nodeID1)+".json")
}

func (s *Store) readMeta(nodeID1 []byte) (finalizedMeta, bool, error) {
	b, err := os.ReadFile(s.metaPath(nodeID1))
	if errors.Is(err, os.ErrNotExist) {
		return finalizedMeta{}, false, nil
	}
	if err != nil {
		return finalizedMeta{}, false, err
	}
	var m finalizedMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return finalizedMeta{}, false, err
	}
	return m, true, nil
}

func (s *Store) writeMeta(nodeID1 []byte, m finalizedMeta) error {
	if err := os.MkdirAll(s.metaDir(), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(nodeID1), b, 0o644)
}

func (s *Store) deleteMeta(nodeID1 []byte) error {
	err := os.Remove(s.metaPath(nodeID1))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// dataIDReferenced reports whether any nodeId1 still resolves to dataIDHex.
func (s *Store) dataIDReferenced(dataIDHex string) (bool, error) {
	entries, err := os.ReadDir(s.metaDir())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(s.metaDir(), e.Name()))
		if err != nil {
			continue
		}
		var m finalizedMeta
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		if m.DataID == dataIDHex {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) readFragment(dataID [32]byte, index uint32) ([]byte, error) {
	b, err := os.ReadFile(s.fragPath(dataID, index))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// WriteBlobFragment stores one fragment at a caller-chosen index, last
// writer wins for a given (dataId, index) — concurrent unrelated fragment
// writes are allowed to race (§5). Once dataId has been finalized the
// fragment is write-once: further writes silently no-op rather than erroring,
// since the bytes they'd touch are already committed to the assembled blob.
func (s *Store) WriteBlobFragment(dataID [32]byte, index uint32, fragment []byte) error {
	if len(fragment) > s.fragmentSize {
		return io.ErrShortBuffer
	}
	if _, err := os.Stat(s.blobPath(dataID)); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.fragDir(dataID), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.fragPath(dataID, index), fragment, 0o644)
}

// WriteBlob writes data at an arbitrary byte offset, splitting it across
// whichever fragments it spans. Fragments fully covered by data are
// replaced verbatim; a partially-covered start/end fragment is read,
// overlaid, and rewritten whole. Writing past a fragment's current end
// zero-fills the gap up to the write.
func (s *Store) WriteBlob(dataID [32]byte, pos int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	fsz := int64(s.fragmentSize)
	startFragment := uint32(pos / fsz)
	startOffset := pos % fsz
	end := pos + int64(len(data))
	endFragment := uint32((end - 1) / fsz)

	for idx := startFragment; idx <= endFragment; idx++ {
		fragStart := int64(idx) * fsz
		fragEnd := fragStart + fsz
		dataFrom := int64(0)
		if fragStart > pos {
			dataFrom = fragStart - pos
		}
		dataTo := int64(len(data))
		if fragEnd < end {
			dataTo = fragEnd - pos
		}
		chunk := data[dataFrom:dataTo]

		if idx > startFragment && idx < endFragment {
			if err := s.WriteBlobFragment(dataID, idx, chunk); err != nil {
				return err
			}
			continue
		}

		var offset int64
		if idx == startFragment {
			offset = startOffset
		}
		existing, err := s.readFragment(dataID, idx)
		if err != nil {
			return err
		}
		need := offset + int64(len(chunk))
		if int64(len(existing)) < need {
			grown := make([]byte, need)
			copy(grown, existing)
			existing = grown
		}
		copy(existing[offset:], chunk)
		if err := s.WriteBlobFragment(dataID, idx, existing); err != nil {
			return err
		}
	}
	return nil
}

// ReadBlobIntermediaryLength sums the bytes staged so far for a dataId that
// has not yet been finalized, so a resumable writer can ask where it left
// off.
func (s *Store) ReadBlobIntermediaryLength(dataID [32]byte) (int64, error) {
	entries, err := os.ReadDir(s.fragDir(dataID))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

func (s *Store) fragmentIndices(dataID [32]byte) ([]int, error) {
	entries, err := os.ReadDir(s.fragDir(dataID))
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		indices = append(indices, n)
	}
	sort.Ints(indices)
	return indices, nil
}

// FinalizeWriteBlob verifies the staged fragments for dataID — stored
// length must equal length, and the blake2b-256 digest of the ascending
// fragment concatenation must equal hash — then atomically assembles them
// into dataID's blob and installs the blob_finalized(nodeId1 -> dataId)
// mapping. On either precondition failing, the staged fragments are
// discarded and ErrHashMismatch is returned (§4.5).
func (s *Store) FinalizeWriteBlob(nodeID1 []byte, dataID [32]byte, length int64, hash [32]byte, now uint64) error {
	stored, err := s.ReadBlobIntermediaryLength(dataID)
	if err != nil {
		return err
	}
	fragDir := s.fragDir(dataID)
	if stored != length {
		_ = os.RemoveAll(fragDir)
		return ErrHashMismatch
	}

	indices, err := s.fragmentIndices(dataID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.blobPath(dataID)), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.blobPath(dataID)), "blob-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h, err := blake2b.New256(nil)
	if err != nil {
		tmp.Close()
		return err
	}
	for _, idx := range indices {
		b, err := os.ReadFile(filepath.Join(fragDir, strconv.Itoa(idx)))
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := tmp.Write(b); err != nil {
			tmp.Close()
			return err
		}
		h.Write(b)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	if sum != hash {
		s.log.Warn("blob finalize hash mismatch", zap.String("dataId", s.key(dataID)))
		_ = os.RemoveAll(fragDir)
		return ErrHashMismatch
	}
	if err := os.Rename(tmpPath, s.blobPath(dataID)); err != nil {
		return err
	}

	if err := s.writeMeta(nodeID1, finalizedMeta{
		DataID: s.key(dataID),
		Length: length,
		Hash:   hex.EncodeToString(hash[:]),
		Now:    now,
	}); err != nil {
		return err
	}

	s.log.Info("blob finalized", zap.String("dataId", s.key(dataID)), zap.Int64("bytes", length))
	s.logAudit("blob.finalize", map[string]string{
		"dataId":  s.key(dataID),
		"nodeId1": hex.EncodeToString(nodeID1),
	})
	return nil
}

// ReadBlob returns up to length bytes starting at pos from nodeID1's
// finalized blob, transparently crossing whatever fragment boundaries the
// assembled file happens to straddle (the assembled file is a single
// flat blob, so a ranged read is a plain seek+read). Requires a finalized
// blob_finalized row; ErrNotFinalized otherwise.
func (s *Store) ReadBlob(nodeID1 []byte, pos, length int64) ([]byte, error) {
	meta, ok, err := s.readMeta(nodeID1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFinalized
	}
	dataID, err := decodeDataID(meta.DataID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.blobPath(dataID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if pos < 0 || pos >= meta.Length {
		return nil, nil
	}
	n := length
	if pos+n > meta.Length {
		n = meta.Length - pos
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, pos); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// CopyBlob duplicates srcNodeID1's blob_finalized row onto dstNodeID1
// without re-verifying or re-copying bytes: both nodeId1s now resolve to
// the same dataId. Returns false if src is not finalized.
func (s *Store) CopyBlob(srcNodeID1, dstNodeID1 []byte, now uint64) (bool, error) {
	meta, ok, err := s.readMeta(srcNodeID1)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	meta.Now = now
	if err := s.writeMeta(dstNodeID1, meta); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteBlobs drops each nodeId1's blob_finalized mapping, then garbage
// collects the underlying dataId's fragments/blob once no nodeId1 resolves
// to it anymore (copyBlob may have left other claimants).
func (s *Store) DeleteBlobs(nodeID1s [][]byte) error {
	for _, nodeID1 := range nodeID1s {
		meta, ok, err := s.readMeta(nodeID1)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.deleteMeta(nodeID1); err != nil {
			return err
		}
		s.logAudit("blob.delete", map[string]string{
			"dataId":  meta.DataID,
			"nodeId1": hex.EncodeToString(nodeID1),
		})

		referenced, err := s.dataIDReferenced(meta.DataID)
		if err != nil {
			return err
		}
		if referenced {
			continue
		}
		dataID, err := decodeDataID(meta.DataID)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Dir(s.blobPath(dataID))); err != nil {
			return err
		}
	}
	return nil
}

func decodeDataID(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// DataID derives the blobstore key for a node's blob per §3.2:
// H(nodeId1 || clientPublicKey).
func DataID(nodeID1, clientPublicKey []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(nodeID1)
	h.Write(clientPublicKey)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
