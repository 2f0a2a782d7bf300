// Package querylog journals the queries sent to the backing store as
// zstd-compressed JSON lines, one file per UTC hour.
package querylog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Query kinds.
const (
	KindRatios  = "ratios"
	KindPlayers = "players"
)

// Record describes one query executed against the store.
type Record struct {
	Time        time.Time `json:"time"`
	Kind        string    `json:"kind"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Areas       []string  `json:"areas,omitempty"`
	Players     []string  `json:"players,omitempty"`
	Filter      string    `json:"filter,omitempty"`
	Locale      string    `json:"locale,omitempty"`
	Rows        int       `json:"rows"`
	DurationMS  int64     `json:"duration_ms"`
	Fresh       bool      `json:"fresh,omitempty"`
	Error       string    `json:"error,omitempty"`
}

const (
	filePrefix = "queries"
	fileSuffix = ".jsonl.zst"
	hourLayout = "2006-01-02-15"
)

// FileName is the journal file holding records of the hour of t.
func FileName(t time.Time) string {
	return filePrefix + "-" + t.UTC().Format(hourLayout) + fileSuffix
}

// Journal appends records to <dir>/queries-YYYY-MM-DD-HH.jsonl.zst. A record
// goes to the file of its own hour; records without a time are stamped on
// write. Safe for concurrent use.
type Journal struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

// Open returns a journal writing under dir. An empty dir disables the
// journal: Open returns nil and a nil *Journal discards records.
func Open(dir string) *Journal {
	if dir == "" {
		return nil
	}
	return &Journal{dir: dir, now: time.Now}
}

// Record appends r and flushes it through the compressor, so a crash loses
// at most the record being written.
func (j *Journal) Record(r Record) error {
	if j == nil {
		return nil
	}
	if r.Time.IsZero() {
		r.Time = j.now()
	}
	r.Time = r.Time.UTC()
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if hour := r.Time.Format(hourLayout); hour != j.hour {
		if err := j.rotateLocked(hour, r.Time); err != nil {
			return err
		}
	}
	line = append(line, '\n')
	if _, err := j.buf.Write(line); err != nil {
		return err
	}
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.enc.Flush()
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) rotateLocked(hour string, t time.Time) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(j.dir, FileName(t)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f, j.enc, j.buf, j.hour = f, enc, bufio.NewWriterSize(enc, 32*1024), hour
	return nil
}

func (j *Journal) closeLocked() error {
	if j.enc == nil {
		return nil
	}
	_ = j.buf.Flush()
	err := j.enc.Close()
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.f, j.enc, j.buf, j.hour = nil, nil, nil, ""
	return err
}
