// Package ledger implements HashChainLog, the per-node tamper-evident
// append-only event log. Each record embeds the SHA-256 hash of the
// previous record; the on-disk format is one canonical JSON object per
// line with a trailing newline.
//
// The append/replay/verify shape is grounded on the write-ahead log idiom
// in writerslogic-witnessd/internal/wal/wal.go (mutex-guarded sequential
// append, scan-to-end replay on open, explicit sentinel errors for a
// broken chain) — the wire format here is JSON-lines rather than wal.go's
// binary framing.
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// GenesisPrevHash is the seed previous-hash: 32 zero bytes, hex-encoded.
var GenesisPrevHash = strings.Repeat("0", 64)

// Kind identifies the semantic meaning of a log record's entry.
type Kind string

const (
	KindGenesis      Kind = "GENESIS"
	KindEventIngest  Kind = "EVENT_INGESTED"
	KindMergeApplied Kind = "MERGE_APPLIED"
)

// Record is one entry in the hash chain.
type Record struct {
	Seq       uint64          `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	PrevHash  string          `json:"prev_hash"`
	Entry     json.RawMessage `json:"entry"`
	Hash      string          `json:"hash"`
}

// ErrBrokenChain is returned when a record's prev_hash does not match the
// hash of its predecessor.
var ErrBrokenChain = errors.New("ledger: broken hash chain")

// ErrCorruptedEntry is returned when a record's stored hash does not match
// the hash recomputed from its own fields.
var ErrCorruptedEntry = errors.New("ledger: corrupted entry")

// VerifyResult is the outcome of VerifyLog.
type VerifyResult struct {
	Valid        bool
	FirstBadSeq  *uint64
}

// HashChainLog is a mutex-guarded, file-backed, append-only hash chain.
type HashChainLog struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	records  []Record
	lastHash string
	nextSeq  uint64
}

// Open opens the log at path, replaying existing records, or creates a new
// log seeded with a genesis record if path does not exist.
func Open(path string) (*HashChainLog, error) {
	l := &HashChainLog{path: path}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	l.file = f

	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}

	if len(l.records) == 0 {
		if err := l.appendLocked(KindGenesis, nil, GenesisPrevHash, 0); err != nil {
			f.Close()
			return nil, err
		}
	}

	return l, nil
}

func (l *HashChainLog) replay() error {
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	prevHash := GenesisPrevHash
	var expectedSeq uint64

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("%w: seq unknown: %v", ErrCorruptedEntry, err)
		}
		if rec.Seq != expectedSeq {
			bad := expectedSeq
			return fmt.Errorf("%w: expected seq %d, found %d", ErrBrokenChain, bad, rec.Seq)
		}
		if rec.PrevHash != prevHash {
			bad := rec.Seq
			return fmt.Errorf("%w: at seq %d", ErrBrokenChain, bad)
		}
		wantHash := computeHash(rec.Seq, rec.Timestamp, rec.PrevHash, rec.Entry)
		if wantHash != rec.Hash {
			bad := rec.Seq
			return fmt.Errorf("%w: at seq %d", ErrCorruptedEntry, bad)
		}
		l.records = append(l.records, rec)
		prevHash = rec.Hash
		expectedSeq++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ledger: scan %s: %w", l.path, err)
	}

	l.lastHash = prevHash
	l.nextSeq = expectedSeq

	if _, err := l.file.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

// Append writes a new record of the given kind with the given payload,
// computing its hash under the log's mutex, then flushes it durably before
// returning.
func (l *HashChainLog) Append(kind Kind, payload any) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: marshal payload: %w", err)
	}
	entry, err := wrapEntry(kind, data)
	if err != nil {
		return Record{}, err
	}
	if err := l.appendLocked(kind, entry, l.lastHash, nowMs()); err != nil {
		return Record{}, err
	}
	return l.records[len(l.records)-1], nil
}

// appendLocked performs the actual append; caller must hold l.mu. entry may
// be nil for the genesis record, in which case it is wrapped as {"kind":
// "GENESIS"}.
func (l *HashChainLog) appendLocked(kind Kind, entry json.RawMessage, prevHash string, ts int64) error {
	if entry == nil {
		var err error
		entry, err = wrapEntry(kind, nil)
		if err != nil {
			return err
		}
	}

	seq := l.nextSeq
	hash := computeHash(seq, ts, prevHash, entry)
	rec := Record{Seq: seq, Timestamp: ts, PrevHash: prevHash, Entry: entry, Hash: hash}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: marshal record: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("ledger: write record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}

	l.records = append(l.records, rec)
	l.lastHash = hash
	l.nextSeq = seq + 1
	return nil
}

func wrapEntry(kind Kind, data json.RawMessage) (json.RawMessage, error) {
	env := struct {
		Kind Kind            `json:"kind"`
		Data json.RawMessage `json:"data,omitempty"`
	}{Kind: kind, Data: data}
	return json.Marshal(env)
}

// VerifyLog recomputes every hash and reports the first mismatch, if any.
func (l *HashChainLog) VerifyLog() VerifyResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := GenesisPrevHash
	for i, rec := range l.records {
		if rec.Seq != uint64(i) || rec.PrevHash != prevHash {
			bad := rec.Seq
			return VerifyResult{Valid: false, FirstBadSeq: &bad}
		}
		want := computeHash(rec.Seq, rec.Timestamp, rec.PrevHash, rec.Entry)
		if want != rec.Hash {
			bad := rec.Seq
			return VerifyResult{Valid: false, FirstBadSeq: &bad}
		}
		prevHash = rec.Hash
	}
	return VerifyResult{Valid: true}
}

// LogTail returns the n most recent records, oldest first.
func (l *HashChainLog) LogTail(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	start := len(l.records) - n
	out := make([]Record, n)
	copy(out, l.records[start:])
	return out
}

// Entries returns all records with seq >= since.
func (l *HashChainLog) Entries(since uint64) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0)
	for _, rec := range l.records {
		if rec.Seq >= since {
			out = append(out, rec)
		}
	}
	return out
}

// LatestHash returns the hash of the most recent record.
func (l *HashChainLog) LatestHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Len returns the number of records, including genesis.
func (l *HashChainLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Close closes the underlying file.
func (l *HashChainLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func computeHash(seq uint64, timestamp int64, prevHash string, entry json.RawMessage) string {
	h := sha256.New()

	var seqBuf, tsBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp))

	h.Write(seqBuf[:])
	h.Write(tsBuf[:])
	h.Write([]byte(prevHash))
	h.Write(entry)

	return hex.EncodeToString(h.Sum(nil))
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
