// Package store keeps a history of preprocessing runs in a sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	// NOTE: registers the sqlite3 dialect. Without it goqu.Dialect("sqlite3")
	// falls back to a copy of the default dialect.
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	_ "github.com/glebarez/go-sqlite"
)

var tracer = otel.Tracer("wlanon/store")

var ErrRunNotFound = errors.New("store: run not found")

const maxPageSize = 100

const runsTableVersion = "1"
const runsTableName = "runs"
const runsTableSchema = `
create table if not exists %s (
    id integer primary key,
    run_id text not null,
    input text not null,
    params text not null,
    nodes integer not null,
    subjects integer not null,
    candidates integer not null,
    necessary integer not null,
    singletons integer not null,
    rounds integer not null,
    final_compliant boolean not null,
    truncated boolean not null,
    load_ms integer not null,
    preprocess_ms integer not null,
    started_at datetime not null,
    necessary_ids text not null default '[]'
);
create unique index if not exists %s on %s (run_id);`

var runs = (*runsTable)(nil)

type runsTable struct{}

func (r *runsTable) Name() string {
	return fmt.Sprintf("v%s_%s", r.Version(), runsTableName)
}

func (r *runsTable) Version() string {
	return runsTableVersion
}

func (r *runsTable) Schema() (string, []any) {
	return runsTableSchema, []any{
		r.Name(),
		fmt.Sprintf("idx_runs_run_id_v%s", r.Version()),
		r.Name(),
	}
}

// Run is one recorded preprocessing run.
type Run struct {
	ID             ksuid.KSUID
	Input          string
	Params         map[string]any
	Nodes          int
	Subjects       int
	Candidates     int
	Necessary      int
	Singletons     int
	Rounds         int
	FinalCompliant bool
	Truncated      bool
	LoadTime       time.Duration
	PreprocessTime time.Duration
	StartedAt      time.Time
	NecessaryIDs   []string
}

type Store struct {
	rawDB *sql.DB
	db    *goqu.Database
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	ctx, span := tracer.Start(ctx, "store.Open")
	defer span.End()

	rawDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{rawDB: rawDB, db: goqu.New("sqlite3", rawDB)}

	query, args := runs.Schema()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(query, args...)); err != nil {
		_ = rawDB.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.rawDB == nil {
		return nil
	}
	err := s.rawDB.Close()
	s.rawDB = nil
	s.db = nil
	return err
}

func (s *Store) validateDB() error {
	if s == nil || s.db == nil {
		return errors.New("store: database has been closed")
	}
	return nil
}

// PutRun records r. A zero ID is replaced by a fresh one, which is returned.
func (s *Store) PutRun(ctx context.Context, r Run) (ksuid.KSUID, error) {
	ctx, span := tracer.Start(ctx, "store.PutRun")
	defer span.End()

	if err := s.validateDB(); err != nil {
		return ksuid.Nil, err
	}
	if r.ID.IsNil() {
		r.ID = ksuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	params, err := json.Marshal(r.Params)
	if err != nil {
		return ksuid.Nil, err
	}
	ids := r.NecessaryIDs
	if ids == nil {
		ids = []string{}
	}
	necessaryIDs, err := json.Marshal(ids)
	if err != nil {
		return ksuid.Nil, err
	}

	q := s.db.Insert(runs.Name()).Prepared(true).Rows(goqu.Record{
		"run_id":          r.ID.String(),
		"input":           r.Input,
		"params":          string(params),
		"nodes":           r.Nodes,
		"subjects":        r.Subjects,
		"candidates":      r.Candidates,
		"necessary":       r.Necessary,
		"singletons":      r.Singletons,
		"rounds":          r.Rounds,
		"final_compliant": r.FinalCompliant,
		"truncated":       r.Truncated,
		"load_ms":         r.LoadTime.Milliseconds(),
		"preprocess_ms":   r.PreprocessTime.Milliseconds(),
		"started_at":      r.StartedAt.UTC(),
		"necessary_ids":   string(necessaryIDs),
	})
	query, args, err := q.ToSQL()
	if err != nil {
		return ksuid.Nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return ksuid.Nil, fmt.Errorf("store: inserting run: %w", err)
	}

	ctxzap.Extract(ctx).Debug("run recorded", zap.Stringer("run_id", r.ID))
	return r.ID, nil
}

func (s *Store) selectRuns() *goqu.SelectDataset {
	return s.db.From(runs.Name()).Prepared(true).Select(
		"id", "run_id", "input", "params", "nodes", "subjects", "candidates", "necessary",
		"singletons", "rounds", "final_compliant", "truncated", "load_ms", "preprocess_ms",
		"started_at", "necessary_ids",
	)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (int64, *Run, error) {
	var (
		rowID                int64
		runID, params, ids   string
		loadMs, preprocessMs int64
		ret                  = &Run{}
	)
	err := row.Scan(&rowID, &runID, &ret.Input, &params, &ret.Nodes, &ret.Subjects, &ret.Candidates,
		&ret.Necessary, &ret.Singletons, &ret.Rounds, &ret.FinalCompliant, &ret.Truncated, &loadMs, &preprocessMs,
		&ret.StartedAt, &ids)
	if err != nil {
		return 0, nil, err
	}
	if ret.ID, err = ksuid.Parse(runID); err != nil {
		return 0, nil, fmt.Errorf("store: bad run id %q: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(params), &ret.Params); err != nil {
		return 0, nil, err
	}
	if err := json.Unmarshal([]byte(ids), &ret.NecessaryIDs); err != nil {
		return 0, nil, err
	}
	ret.LoadTime = time.Duration(loadMs) * time.Millisecond
	ret.PreprocessTime = time.Duration(preprocessMs) * time.Millisecond
	return rowID, ret, nil
}

// GetRun returns the run with the given ID or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id ksuid.KSUID) (*Run, error) {
	ctx, span := tracer.Start(ctx, "store.GetRun")
	defer span.End()

	if err := s.validateDB(); err != nil {
		return nil, err
	}

	q := s.selectRuns().Where(goqu.C("run_id").Eq(id.String())).Limit(1)
	query, args, err := q.ToSQL()
	if err != nil {
		return nil, err
	}

	_, ret, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return ret, nil
}

// ListRuns pages through runs oldest first. The returned token is empty on
// the last page.
func (s *Store) ListRuns(ctx context.Context, pageToken string, pageSize uint32) ([]*Run, string, error) {
	ctx, span := tracer.Start(ctx, "store.ListRuns")
	defer span.End()

	if err := s.validateDB(); err != nil {
		return nil, "", err
	}

	q := s.selectRuns()
	if pageToken != "" {
		q = q.Where(goqu.C("id").Gte(pageToken))
	}
	if pageSize > maxPageSize || pageSize == 0 {
		pageSize = maxPageSize
	}
	q = q.Order(goqu.C("id").Asc()).Limit(uint(pageSize + 1))

	query, args, err := q.ToSQL()
	if err != nil {
		return nil, "", err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var (
		ret       []*Run
		lastRowID int64
		count     uint32
	)
	for rows.Next() {
		count++
		if count > pageSize {
			break
		}
		rowID, r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		lastRowID = rowID
		ret = append(ret, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextPageToken := ""
	if count > pageSize {
		nextPageToken = fmt.Sprintf("%d", lastRowID+1)
	}
	return ret, nextPageToken, nil
}
