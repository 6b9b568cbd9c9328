// Package audit provides a write-once, tamper-evident log of storage and
// blob driver events (C12): every event's own hash chains to the previous
// event's hash, so the log can self-verify without an external ledger.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Event is a single immutable audit log entry.
type Event struct {
	Timestamp int64             `json:"ts"`
	Action    string            `json:"action"`
	Meta      map[string]string `json:"meta,omitempty"`
	PrevHash  []byte            `json:"prevHash,omitempty"`
	Hash      []byte            `json:"hash"`
}

// Trail manages an append-only audit log file.
type Trail struct {
	mu       sync.Mutex
	file     *os.File
	lastHash []byte
}

// Open creates or resumes an append-only log file at path, seeding the hash
// chain from the last line already on disk, if any.
func Open(path string) (*Trail, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	t := &Trail{file: f}
	if last, err := readLastEvent(f); err == nil && last != nil {
		t.lastHash = last.Hash
	}
	return t, nil
}

func readLastEvent(f *os.File) (*Event, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	var last *Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err == nil {
			e := ev
			last = &e
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return last, sc.Err()
}

// Log appends a new event, chaining its hash from the previous entry.
func (t *Trail) Log(action string, meta map[string]string) error {
	if t == nil || t.file == nil {
		return errors.New("audit: trail not initialized")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := Event{Timestamp: time.Now().Unix(), Action: action, Meta: meta, PrevHash: t.lastHash}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return err
	}
	h.Write(raw)
	ev.Hash = h.Sum(nil)
	blob, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := t.file.Write(append(blob, '\n')); err != nil {
		return err
	}
	t.lastHash = ev.Hash
	return nil
}

// Report reads every event currently on disk.
func (t *Trail) Report() ([]Event, error) {
	if t == nil || t.file == nil {
		return nil, errors.New("audit: trail not initialized")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.Seek(0, 0); err != nil {
		return nil, err
	}
	defer t.file.Seek(0, io.SeekEnd)

	var out []Event
	sc := bufio.NewScanner(t.file)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out, sc.Err()
}

// Verify walks the on-disk log checking that each event's PrevHash matches
// the prior event's Hash and that each event's Hash matches its own
// contents, detecting removed, reordered or edited lines. Lines removed from
// the end of the log are not detected.
func (t *Trail) Verify() (bool, error) {
	events, err := t.Report()
	if err != nil {
		return false, err
	}
	var prev []byte
	for _, ev := range events {
		if len(ev.PrevHash) != len(prev) || (len(prev) > 0 && string(ev.PrevHash) != string(prev)) {
			return false, nil
		}
		body := ev
		body.Hash = nil
		raw, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		if sum := blake2b.Sum256(raw); string(sum[:]) != string(ev.Hash) {
			return false, nil
		}
		prev = ev.Hash
	}
	return true, nil
}

// Archive copies the current log to dest (a directory or a file path) and
// writes alongside it a blake2b-256 manifest of the copied contents.
func (t *Trail) Archive(dest string) (string, string, error) {
	if t == nil || t.file == nil {
		return "", "", errors.New("audit: trail not initialized")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.file.Sync(); err != nil {
		return "", "", err
	}
	if _, err := t.file.Seek(0, 0); err != nil {
		return "", "", err
	}
	data, err := io.ReadAll(t.file)
	if _, serr := t.file.Seek(0, io.SeekEnd); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return "", "", err
	}
	if fi, statErr := os.Stat(dest); statErr == nil && fi.IsDir() {
		dest = filepath.Join(dest, fmt.Sprintf("audit_%d.log", time.Now().Unix()))
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return "", "", err
	}
	sum := blake2b.Sum256(data)
	checksum := fmt.Sprintf("%x", sum[:])
	manifest := fmt.Sprintf("%s  %s\n", checksum, filepath.Base(dest))
	if err := os.WriteFile(dest+".b2sum", []byte(manifest), 0o600); err != nil {
		return "", "", err
	}
	return dest, checksum, nil
}

// Close closes the underlying log file.
func (t *Trail) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	return t.file.Close()
}
