// Package history archives served runs in SQLite so past allocations can be
// listed and replayed.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"armory-planner/internal/allocator"
	"armory-planner/internal/plan"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Kinds of recorded runs.
const (
	KindAllocate = "allocate"
	KindPlan     = "plan"
)

// Run is one archived request and its outcome. List leaves Request and
// Result empty.
type Run struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	CreatedAt time.Time       `json:"createdAt"`
	Digest    string          `json:"digest"`
	Stop      string          `json:"stop,omitempty"`
	Steps     int             `json:"steps"`
	Spent     float64         `json:"spent"`
	Remaining float64         `json:"remaining"`
	Request   json.RawMessage `json:"request,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Digest is the hex SHA-256 of a raw request body.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// AllocationRun builds the archive row for an allocation.
func AllocationRun(request []byte, res allocator.Result) (Run, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return Run{}, fmt.Errorf("encode result: %w", err)
	}
	return Run{
		Kind:      KindAllocate,
		Digest:    Digest(request),
		Stop:      string(res.Stop),
		Steps:     len(res.Steps),
		Spent:     res.Spent,
		Remaining: res.Remaining,
		Request:   json.RawMessage(request),
		Result:    body,
	}, nil
}

// PlanRun builds the archive row for an upgrade plan.
func PlanRun(request []byte, p *plan.Plan) (Run, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Run{}, fmt.Errorf("encode plan: %w", err)
	}
	return Run{
		Kind:      KindPlan,
		Digest:    Digest(request),
		Steps:     len(p.Lines),
		Spent:     p.Points,
		Remaining: p.Left,
		Request:   json.RawMessage(request),
		Result:    body,
	}, nil
}

// Store is a SQLite run archive. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the archive at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
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

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL,
			digest TEXT NOT NULL,
			stop TEXT NOT NULL DEFAULT '',
			steps INTEGER NOT NULL,
			spent REAL NOT NULL,
			remaining REAL NOT NULL,
			request TEXT NOT NULL,
			result TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS runs_digest ON runs(digest);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Record stores r and returns its ID. CreatedAt is set when zero.
func (s *Store) Record(ctx context.Context, r Run) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(kind,created_at,digest,stop,steps,spent,remaining,request,result)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.Kind, r.CreatedAt.UTC().Format(time.RFC3339Nano), r.Digest, r.Stop,
		r.Steps, r.Spent, r.Remaining, string(r.Request), string(r.Result),
	)
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	return res.LastInsertId()
}

// List returns up to limit runs, newest first, without bodies.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,kind,created_at,digest,stop,steps,spent,remaining
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			created string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &created, &r.Digest, &r.Stop, &r.Steps, &r.Spent, &r.Remaining); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("run %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one run with its request and result bodies.
func (s *Store) Get(ctx context.Context, id int64) (Run, error) {
	var (
		r                    Run
		created, req, result string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id,kind,created_at,digest,stop,steps,spent,remaining,request,result
		 FROM runs WHERE id=?`, id,
	).Scan(&r.ID, &r.Kind, &created, &r.Digest, &r.Stop, &r.Steps, &r.Spent, &r.Remaining, &req, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %d: %w", id, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Run{}, fmt.Errorf("run %d: %w", id, err)
	}
	r.Request = json.RawMessage(req)
	r.Result = json.RawMessage(result)
	return r, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
