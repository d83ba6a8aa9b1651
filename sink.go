package s4pp

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"
)

// SampleSink persists committed samples (spec.md §6: "SampleSink.begin
// (seqid), SampleSink.emit(sample), SampleSink.commit(seqid) → ok|fail,
// SampleSink.abort(seqid)"). The sinks in this package never return an
// error from Begin, Emit or Abort. ServerSession answers a Begin error with
// REJ:malformed, ends the session on an Emit error, and ignores Abort
// errors; Commit's result is surfaced to the peer as OK or NOK.
type SampleSink interface {
	Begin(seqID int64) error
	Emit(s Sample) error
	Commit(seqID int64) (ok bool, err error)
	Abort(seqID int64) error
}

// FileSampleSink is an append-only binary file sink, one directory per
// session, modelled on the teacher's fileStore: samples are buffered in
// memory for the lifetime of a sequence and flushed to samples.dat plus an
// appended seqid to commits.idx only on a successful Commit, so Abort never
// leaves a partial record on disk.
type FileSampleSink struct {
	mu          sync.Mutex
	samplesFile *os.File
	commitsFile *os.File
	pending     map[int64][]Sample
}

// OpenFileSampleSink creates dir if needed and opens its samples.dat and
// commits.idx files for append.
func OpenFileSampleSink(dir string) (*FileSampleSink, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	samplesFile, err := os.OpenFile(filepath.Join(dir, "samples.dat"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open samples.dat: %w", err)
	}
	commitsFile, err := os.OpenFile(filepath.Join(dir, "commits.idx"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		_ = samplesFile.Close()
		return nil, fmt.Errorf("open commits.idx: %w", err)
	}
	return &FileSampleSink{
		samplesFile: samplesFile,
		commitsFile: commitsFile,
		pending:     make(map[int64][]Sample),
	}, nil
}

// Begin implements SampleSink.
func (f *FileSampleSink) Begin(seqID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[seqID] = nil
	return nil
}

// Emit implements SampleSink.
func (f *FileSampleSink) Emit(s Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[s.SeqID] = append(f.pending[s.SeqID], s)
	return nil
}

// Commit writes every pending sample for seqID and records the commit,
// under an flock'd write to samples.dat (mirroring the teacher's
// per-append syscall.Flock discipline).
func (f *FileSampleSink) Commit(seqID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	samples := f.pending[seqID]
	delete(f.pending, seqID)

	if err := syscall.Flock(int(f.samplesFile.Fd()), syscall.LOCK_EX); err != nil {
		return false, fmt.Errorf("lock samples file: %w", err)
	}
	defer syscall.Flock(int(f.samplesFile.Fd()), syscall.LOCK_UN)

	for _, s := range samples {
		if err := writeSampleRecord(f.samplesFile, s); err != nil {
			return false, err
		}
	}
	if err := f.samplesFile.Sync(); err != nil {
		return false, fmt.Errorf("sync samples file: %w", err)
	}

	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], uint64(seqID))
	if _, err := f.commitsFile.Write(idxBuf[:]); err != nil {
		return false, fmt.Errorf("write commit index: %w", err)
	}
	if err := f.commitsFile.Sync(); err != nil {
		return false, fmt.Errorf("sync commit index: %w", err)
	}
	return true, nil
}

// Abort implements SampleSink, discarding any buffered samples for seqID.
func (f *FileSampleSink) Abort(seqID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, seqID)
	return nil
}

// Close closes the underlying files.
func (f *FileSampleSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err1 := f.samplesFile.Close()
	err2 := f.commitsFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// writeSampleRecord serialises one sample as:
//
//	[8]byte seqid, [4]byte dictIdx, [8]byte effNum, [8]byte effDen,
//	[8]byte span, [4]byte valuesLen, [n]byte values (comma-joined),
//	[4]byte unitLen, [n]byte unit, [8]byte unitDivisor,
//	[4]byte nameLen, [n]byte name
func writeSampleRecord(w io.Writer, s Sample) error {
	values := strings.Join(s.Values, ",")
	buf := make([]byte, 0, 8+4+8+8+8+4+len(values)+4+len(s.Unit)+8+4+len(s.Name))
	var tmp8 [8]byte
	var tmp4 [4]byte

	binary.BigEndian.PutUint64(tmp8[:], uint64(s.SeqID))
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint32(tmp4[:], uint32(s.DictIdx))
	buf = append(buf, tmp4[:]...)
	binary.BigEndian.PutUint64(tmp8[:], uint64(s.EffectiveTime.Num))
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint64(tmp8[:], uint64(s.EffectiveTime.Den))
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint64(tmp8[:], uint64(s.Span))
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(values)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, values...)
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(s.Unit)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, s.Unit...)
	binary.BigEndian.PutUint64(tmp8[:], uint64(s.UnitDivisor))
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(s.Name)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, s.Name...)

	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("write sample record: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("incomplete sample write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// ReadSampleRecords replays every sample ever committed to dir's
// samples.dat, in append order; it exists for tests and offline audit,
// not for the protocol engine itself.
func ReadSampleRecords(dir string) ([]Sample, error) {
	f, err := os.Open(filepath.Join(dir, "samples.dat"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var out []Sample
	for {
		s, err := readSampleRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func readSampleRecord(r *bufio.Reader) (Sample, error) {
	var tmp8 [8]byte
	var tmp4 [4]byte
	var s Sample

	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return s, err
	}
	s.SeqID = int64(binary.BigEndian.Uint64(tmp8[:]))
	if _, err := io.ReadFull(r, tmp4[:]); err != nil {
		return s, err
	}
	s.DictIdx = int(binary.BigEndian.Uint32(tmp4[:]))
	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return s, err
	}
	s.EffectiveTime.Num = int64(binary.BigEndian.Uint64(tmp8[:]))
	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return s, err
	}
	s.EffectiveTime.Den = int64(binary.BigEndian.Uint64(tmp8[:]))
	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return s, err
	}
	s.Span = int64(binary.BigEndian.Uint64(tmp8[:]))

	if _, err := io.ReadFull(r, tmp4[:]); err != nil {
		return s, err
	}
	values := make([]byte, binary.BigEndian.Uint32(tmp4[:]))
	if _, err := io.ReadFull(r, values); err != nil {
		return s, err
	}
	if len(values) > 0 {
		s.Values = strings.Split(string(values), ",")
	}

	if _, err := io.ReadFull(r, tmp4[:]); err != nil {
		return s, err
	}
	unit := make([]byte, binary.BigEndian.Uint32(tmp4[:]))
	if _, err := io.ReadFull(r, unit); err != nil {
		return s, err
	}
	s.Unit = string(unit)

	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return s, err
	}
	s.UnitDivisor = int64(binary.BigEndian.Uint64(tmp8[:]))

	if _, err := io.ReadFull(r, tmp4[:]); err != nil {
		return s, err
	}
	name := make([]byte, binary.BigEndian.Uint32(tmp4[:]))
	if _, err := io.ReadFull(r, name); err != nil {
		return s, err
	}
	s.Name = string(name)

	return s, nil
}

// SQLiteSampleSink is a modernc.org/sqlite-backed SampleSink: one samples
// table plus a commits table recording committed seqids, grounded on the
// teacher's sqliteStore transaction pattern.
type SQLiteSampleSink struct {
	db *sql.DB

	mu      sync.Mutex
	pending map[int64][]Sample
}

// OpenSQLiteSampleSink opens or creates the sink database at dsn.
func OpenSQLiteSampleSink(dsn string) (*SQLiteSampleSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS samples (
  seqid        INTEGER NOT NULL,
  dict_idx     INTEGER NOT NULL,
  eff_num      INTEGER NOT NULL,
  eff_den      INTEGER NOT NULL,
  span         INTEGER NOT NULL,
  values_csv   TEXT NOT NULL,
  unit         TEXT NOT NULL,
  unit_divisor INTEGER NOT NULL,
  name         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS commits (
  seqid     INTEGER PRIMARY KEY,
  committed_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteSampleSink{db: db, pending: make(map[int64][]Sample)}, nil
}

// Begin implements SampleSink.
func (s *SQLiteSampleSink) Begin(seqID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[seqID] = nil
	return nil
}

// Emit implements SampleSink.
func (s *SQLiteSampleSink) Emit(sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sample.SeqID] = append(s.pending[sample.SeqID], sample)
	return nil
}

// Commit writes every pending sample for seqID plus a commits row in one
// transaction.
func (s *SQLiteSampleSink) Commit(seqID int64) (bool, error) {
	s.mu.Lock()
	samples := s.pending[seqID]
	delete(s.pending, seqID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, sample := range samples {
		values := strings.Join(sample.Values, ",")
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO samples(seqid, dict_idx, eff_num, eff_den, span, values_csv, unit, unit_divisor, name)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sample.SeqID, sample.DictIdx, sample.EffectiveTime.Num, sample.EffectiveTime.Den,
			sample.Span, values, sample.Unit, sample.UnitDivisor, sample.Name); err != nil {
			return false, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commits(seqid, committed_at) VALUES(?, ?)
		 ON CONFLICT(seqid) DO UPDATE SET committed_at=excluded.committed_at`,
		seqID, time.Now().Unix()); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Abort implements SampleSink.
func (s *SQLiteSampleSink) Abort(seqID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, seqID)
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteSampleSink) Close() error { return s.db.Close() }
