package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"exam-grader/api/internal/grading"
)

var ErrNotFound = sql.ErrNoRows

const schemaDDL = `
create table if not exists gradings (
  id           uuid primary key,
  created_at   timestamptz not null default now(),
  request_id   text not null default '',
  backend      text not null,
  model        text not null default '',
  question     text not null,
  student_name text not null default '',
  total_score  double precision not null,
  max_score    double precision not null,
  result_json  jsonb not null
);
create index if not exists gradings_created_at_idx on gradings (created_at desc);`

// Open connects with the pgx driver, tunes the pool and pings.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

// GradingRow is one stored grading.
type GradingRow struct {
	ID        uuid.UUID
	CreatedAt time.Time
	RequestID string
	Backend   string
	Model     string
	Question  string
	Result    grading.GradingResult
}

type GradingRepo struct{ DB *sql.DB }

func NewGradingRepo(db *sql.DB) *GradingRepo { return &GradingRepo{DB: db} }

func (r *GradingRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schemaDDL)
	return err
}

func (r *GradingRepo) Insert(ctx context.Context, row GradingRow) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	js, err := json.Marshal(row.Result)
	if err != nil {
		return err
	}
	const q = `
insert into gradings (id, request_id, backend, model, question, student_name, total_score, max_score, result_json)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = r.DB.ExecContext(ctx, q,
		row.ID, row.RequestID, row.Backend, row.Model, row.Question,
		row.Result.StudentName, row.Result.TotalScore, row.Result.MaxScore, js,
	)
	return err
}

func (r *GradingRepo) Get(ctx context.Context, id uuid.UUID) (*GradingRow, error) {
	const q = `
select id, created_at, request_id, backend, model, question, result_json
from gradings where id = $1`
	return scanRow(r.DB.QueryRowContext(ctx, q, id))
}

// Recent returns the newest gradings first.
func (r *GradingRepo) Recent(ctx context.Context, limit int) ([]GradingRow, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
select id, created_at, request_id, backend, model, question, result_json
from gradings order by created_at desc limit $1`
	rows, err := r.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GradingRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes old gradings so the table does not grow without bound.
func (r *GradingRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from gradings where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (*GradingRow, error) {
	var (
		row GradingRow
		js  []byte
	)
	if err := s.Scan(&row.ID, &row.CreatedAt, &row.RequestID, &row.Backend, &row.Model, &row.Question, &js); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(js, &row.Result); err != nil {
		return nil, fmt.Errorf("grading %s: bad result_json: %w", row.ID, err)
	}
	return &row, nil
}
