// Package audit implements the tamper-evident Audit Log from spec.md
// §4.E: an append-only, hash-chained record store with search, export,
// and integrity verification. It generalizes the teacher's
// infrastructure/state.PersistenceBackend pluggable-backend pattern from
// opaque key/value blobs to structured, chained audit records.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

// Record is one append-only audit entry. Hash commits to every other
// field plus PrevHash, so any in-place edit is detectable by Verify.
type Record struct {
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Principal string         `json:"principal"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Outcome   string         `json:"outcome"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// Filter narrows Search by user, action, resource, and time range; zero
// values are wildcards.
type Filter struct {
	Principal string
	Action    string
	Resource  string
	From, To  time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Principal != "" && r.Principal != f.Principal {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.Resource != "" && r.Resource != f.Resource {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}

// computeHash commits to every field of r except Hash itself.
func computeHash(r Record) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%s|%s|%s|%s", r.Seq, r.Timestamp.UnixNano(), r.Principal, r.Action, r.Resource, r.Outcome, r.PrevHash)
	if len(r.Details) > 0 {
		b, _ := json.Marshal(r.Details)
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000"

// Log is a mutex-guarded hash-chained audit log. The
// zero value is not usable; construct with NewMemoryLog or NewFileLog.
type Log struct {
	mu      sync.Mutex
	records []Record
	lastSeq uint64
	lastHash string

	persist func(Record) error // nil for the pure in-memory log
}

// NewMemoryLog returns an in-process Log with no on-disk persistence,
// suitable for tests and embedded use.
func NewMemoryLog() *Log {
	return &Log{lastHash: genesisHash}
}

// NewFileLog returns a Log that persists every appended record as one
// newline-delimited JSON line in path, in addition to keeping an
// in-memory copy for Search/Export/Verify. Existing records in path, if
// any, are replayed on construction so a restarted process resumes its
// chain rather than starting a new one.
func NewFileLog(path string) (*Log, error) {
	l := &Log{lastHash: genesisHash}

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIO, "audit", "NewFileLog", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			f.Close()
			return nil, coreerrors.Wrap(coreerrors.KindIO, "audit", "NewFileLog", err)
		}
		l.records = append(l.records, r)
		l.lastSeq = r.Seq
		l.lastHash = r.Hash
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, coreerrors.Wrap(coreerrors.KindIO, "audit", "NewFileLog", err)
	}
	f.Close()

	out, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIO, "audit", "NewFileLog", err)
	}
	writer := bufio.NewWriter(out)
	l.persist = func(r Record) error {
		line, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return err
		}
		return writer.Flush()
	}
	return l, nil
}

// Append adds one record to the chain, assigning the next sequence number
// and prev_hash. Writes are serialized: only one Append runs at a time.
// Readers (Search, Export, Verify) take the same mutex, so they are
// serialized with Append and with each other.
func (l *Log) Append(principal, action, resource, outcome string, details map[string]any) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := Record{
		Seq:       l.lastSeq + 1,
		Timestamp: time.Now().UTC(),
		Principal: principal,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Details:   details,
		PrevHash:  l.lastHash,
	}
	r.Hash = computeHash(r)

	if l.persist != nil {
		if err := l.persist(r); err != nil {
			return Record{}, coreerrors.Wrap(coreerrors.KindIO, "audit", "Append", err)
		}
	}

	l.records = append(l.records, r)
	l.lastSeq = r.Seq
	l.lastHash = r.Hash
	return r, nil
}

// Search returns every record matching f, oldest first.
func (l *Log) Search(f Filter) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0)
	for _, r := range l.records {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ExportFormat selects Export's output encoding.
type ExportFormat string

const (
	ExportNDJSON ExportFormat = "ndjson"
	ExportCSV    ExportFormat = "csv"
)

// Export writes every record matching f to w in the requested format.
func (l *Log) Export(w io.Writer, f Filter, format ExportFormat) error {
	records := l.Search(f)

	switch format {
	case ExportCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"seq", "timestamp", "principal", "action", "resource", "outcome", "prev_hash", "hash"}); err != nil {
			return coreerrors.Wrap(coreerrors.KindIO, "audit", "Export", err)
		}
		for _, r := range records {
			row := []string{
				strconv.FormatUint(r.Seq, 10),
				r.Timestamp.Format(time.RFC3339Nano),
				r.Principal, r.Action, r.Resource, r.Outcome, r.PrevHash, r.Hash,
			}
			if err := cw.Write(row); err != nil {
				return coreerrors.Wrap(coreerrors.KindIO, "audit", "Export", err)
			}
		}
		cw.Flush()
		return cw.Error()

	default: // ExportNDJSON and unset both default to NDJSON
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return coreerrors.Wrap(coreerrors.KindIO, "audit", "Export", err)
			}
		}
		return nil
	}
}

// VerifyResult is the outcome of a chain integrity check.
type VerifyResult struct {
	OK             bool
	MismatchIndex  int // index into the record slice, -1 if OK
	MismatchReason string
}

// Verify recomputes the chain end-to-end and returns the first mismatch,
// if any, per spec.md's integrity-verify operation.
func (l *Log) Verify() VerifyResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := genesisHash
	if len(l.records) > 0 && l.records[0].Seq > 1 {
		// After Compact the oldest retained record links to a dropped one.
		prevHash = l.records[0].PrevHash
	}
	for i, r := range l.records {
		if r.PrevHash != prevHash {
			return VerifyResult{OK: false, MismatchIndex: i, MismatchReason: "prev_hash does not match the preceding record's hash"}
		}
		if computeHash(r) != r.Hash {
			return VerifyResult{OK: false, MismatchIndex: i, MismatchReason: "record hash does not match its recomputed content hash"}
		}
		if i > 0 && r.Seq != l.records[i-1].Seq+1 {
			return VerifyResult{OK: false, MismatchIndex: i, MismatchReason: "sequence number is not monotonic"}
		}
		prevHash = r.Hash
	}
	return VerifyResult{OK: true, MismatchIndex: -1}
}

// Compact implements a retention policy by dropping the in-memory copy of
// records older than before. It never reorders or rewrites surviving
// records' prev_hash/hash, so a Verify run after Compact only covers the
// retained tail and cannot itself detect tampering that occurred before
// the compaction boundary — retention and tamper-evidence are deliberately
// orthogonal per spec.md's invariant that retention never violates chain
// order.
func (l *Log) Compact(before time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := 0
	for cut < len(l.records) && l.records[cut].Timestamp.Before(before) {
		cut++
	}
	removed := cut
	l.records = append([]Record(nil), l.records[cut:]...)
	return removed
}

// Len returns the number of records currently retained in memory.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
