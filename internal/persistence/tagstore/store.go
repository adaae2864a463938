package tagstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("tagstore: object not found")

// Record is one persisted simulated object.
type Record struct {
	ID         string
	Definition string
	Transform  [10]float64 // position xyz, rotation quat wxyz, scale xyz
	State      Tag
	UpdatedAt  time.Time
}

// Store persists object records in SQLite. Puts are queued to a single writer
// goroutine so callers on the simulation goroutine never block on disk.
type Store struct {
	db *sql.DB

	enc *zstd.Encoder
	dec *zstd.Decoder

	ch     chan putReq
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	dropped atomic.Uint64
	failed  atomic.Uint64
}

type putReq struct {
	rec   Record
	del   bool
	flush chan struct{}
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("tagstore: empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS objects (
			id TEXT PRIMARY KEY,
			definition TEXT NOT NULL,
			transform BLOB NOT NULL,
			state BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_objects_definition ON objects(definition);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:  db,
		enc: enc,
		dec: dec,
		ch:  make(chan putReq, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		s.dec.Close()
		err = errors.Join(s.enc.Close(), s.db.Close())
	})
	return err
}

// Put queues rec for writing. It never blocks; when the queue is full the
// write is counted in Dropped and the caller is told so.
func (s *Store) Put(rec Record) error {
	return s.enqueue(putReq{rec: rec})
}

func (s *Store) Delete(id string) error {
	return s.enqueue(putReq{rec: Record{ID: id}, del: true})
}

// Flush waits until every queued write has reached the database.
func (s *Store) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- putReq{flush: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// Failed counts queued writes the database rejected.
func (s *Store) Failed() uint64 { return s.failed.Load() }

func (s *Store) enqueue(r putReq) error {
	if s == nil || s.closed.Load() {
		return fmt.Errorf("tagstore: closed")
	}
	select {
	case s.ch <- r:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("tagstore: write queue full, %s not persisted", r.rec.ID)
	}
}

func (s *Store) loop() {
	for r := range s.ch {
		if r.flush != nil {
			close(r.flush)
			continue
		}
		if r.del {
			if _, err := s.db.Exec(`DELETE FROM objects WHERE id = ?`, r.rec.ID); err != nil {
				s.failed.Add(1)
			}
			continue
		}
		if err := s.write(r.rec); err != nil {
			s.failed.Add(1)
		}
	}
}

func (s *Store) write(rec Record) error {
	raw, err := rec.State.Marshal()
	if err != nil {
		return err
	}
	state := s.enc.EncodeAll(raw, nil)
	tr, err := encodeTransform(rec.Transform)
	if err != nil {
		return err
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.Exec(
		`INSERT INTO objects(id, definition, transform, state, updated_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET definition=excluded.definition, transform=excluded.transform,
		 state=excluded.state, updated_at=excluded.updated_at`,
		rec.ID, rec.Definition, tr, state, updated.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, definition, transform, state, updated_at FROM objects WHERE id = ?`, id)
	rec, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns every record ordered by id, optionally restricted to one definition.
func (s *Store) List(ctx context.Context, definition string) ([]Record, error) {
	q := `SELECT id, definition, transform, state, updated_at FROM objects`
	var args []any
	if definition != "" {
		q += ` WHERE definition = ?`
		args = append(args, definition)
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (Record, error) {
	var (
		rec     Record
		tr      []byte
		state   []byte
		updated string
	)
	if err := row.Scan(&rec.ID, &rec.Definition, &tr, &state, &updated); err != nil {
		return Record{}, err
	}
	t, err := decodeTransform(tr)
	if err != nil {
		return Record{}, fmt.Errorf("tagstore: %s: %w", rec.ID, err)
	}
	rec.Transform = t
	raw, err := s.dec.DecodeAll(state, nil)
	if err != nil {
		return Record{}, fmt.Errorf("tagstore: %s: decompress state: %w", rec.ID, err)
	}
	if rec.State, err = Unmarshal(raw); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, nil
}

func encodeTransform(t [10]float64) ([]byte, error) {
	return msgpack.Marshal(t[:])
}

func decodeTransform(b []byte) ([10]float64, error) {
	var (
		out [10]float64
		v   []float64
	)
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return out, err
	}
	if len(v) != len(out) {
		return out, fmt.Errorf("transform has %d components, want %d", len(v), len(out))
	}
	copy(out[:], v)
	return out, nil
}
