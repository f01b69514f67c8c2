// Package store persists operator settings and import run history in
// PostgreSQL. Settings are one versioned row per operator; a version
// mismatch resets to defaults instead of migrating.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/puavo-org/puavo-web-sub002/internal/core"
)

// SettingsVersion is bumped whenever the Settings shape changes in a
// way old payloads cannot satisfy. Stored rows with a different version
// are discarded on load.
const SettingsVersion = 2

// Settings are the operator's saved import tool preferences.
type Settings struct {
	Version          int    `json:"version"`
	Delimiter        string `json:"delimiter"`
	InferTypes       bool   `json:"inferTypes"`
	Trim             bool   `json:"trim"`
	OverwriteDefault bool   `json:"overwriteDefault"`
	FirstNameOnly    bool   `json:"firstNameOnly"`
	AlternateUmlauts bool   `json:"alternateUmlauts"`
	PasswordLength   int    `json:"passwordLength"`
	PasswordUpper    bool   `json:"passwordUpper"`
	PasswordLower    bool   `json:"passwordLower"`
	PasswordDigits   bool   `json:"passwordDigits"`
	PasswordPunct    bool   `json:"passwordPunct"`
}

// DefaultSettings returns the settings a fresh operator starts with.
func DefaultSettings() Settings {
	return Settings{
		Version:        SettingsVersion,
		Delimiter:      string(core.DelimiterComma),
		InferTypes:     true,
		Trim:           true,
		PasswordLength: 12,
		PasswordUpper:  true,
		PasswordLower:  true,
		PasswordDigits: true,
	}
}

// RunRecord mirrors core.RunRecord with a database identity.
type RunRecord struct {
	ID         string            `json:"id"`
	RunID      string            `json:"runId"`
	School     string            `json:"school"`
	Mode       core.RunMode      `json:"mode"`
	Policy     core.ImportPolicy `json:"policy"`
	Outcome    core.RunOutcome   `json:"outcome"`
	Message    string            `json:"message,omitempty"`
	Total      int               `json:"total"`
	Succeeded  int               `json:"succeeded"`
	Partial    int               `json:"partial"`
	Failed     int               `json:"failed"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
}

// Store wraps the connection pool. It satisfies core.RunRecorder.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New creates a store on an existing pool.
func New(pool *pgxpool.Pool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, log: log}
}

// EnsureSchema creates the tables on first run. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS operator_settings (
	operator   TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS import_runs (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	run_id      TEXT NOT NULL,
	school      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	policy      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	message     TEXT,
	total       INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	partial     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS import_runs_started_at_idx ON import_runs (started_at DESC);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LoadSettings returns the operator's saved settings. A missing row or a
// version mismatch yields the defaults; the mismatch case is logged so
// the reset is observable.
func (s *Store) LoadSettings(ctx context.Context, operator string) (Settings, error) {
	var (
		version int
		payload []byte
	)
	err := s.pool.QueryRow(ctx,
		"SELECT version, payload FROM operator_settings WHERE operator = $1",
		operator,
	).Scan(&version, &payload)
	if err != nil {
		if isNoRows(err) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	if version != SettingsVersion {
		s.log.Warn("settings version mismatch, resetting to defaults",
			"operator", operator,
			"stored_version", version,
			"expected_version", SettingsVersion,
		)
		return DefaultSettings(), nil
	}

	var settings Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		s.log.Warn("stored settings unreadable, resetting to defaults",
			"operator", operator, "error", err)
		return DefaultSettings(), nil
	}
	settings.Version = version
	return settings, nil
}

// SaveSettings upserts the operator's settings at the current version.
func (s *Store) SaveSettings(ctx context.Context, operator string, settings Settings) error {
	settings.Version = SettingsVersion
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO operator_settings (operator, version, payload, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (operator) DO UPDATE
SET version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = now()`,
		operator, SettingsVersion, payload,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RecordRun writes one finished run into the history.
func (s *Store) RecordRun(ctx context.Context, rec core.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO import_runs
	(run_id, school, mode, policy, outcome, message, total, succeeded, partial, failed, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.RunID, rec.School, string(rec.Mode), string(rec.Policy), string(rec.Outcome),
		toPgText(rec.Message), rec.Total, rec.Succeeded, rec.Partial, rec.Failed,
		rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, run_id, school, mode, policy, outcome, message,
	total, succeeded, partial, failed, started_at, finished_at
FROM import_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	records := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			rec        RunRecord
			id         pgtype.UUID
			message    pgtype.Text
			startedAt  pgtype.Timestamptz
			finishedAt pgtype.Timestamptz
		)
		err := rows.Scan(
			&id, &rec.RunID, &rec.School, &rec.Mode, &rec.Policy, &rec.Outcome,
			&message, &rec.Total, &rec.Succeeded, &rec.Partial, &rec.Failed,
			&startedAt, &finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.ID = pgUUIDToString(id)
		if message.Valid {
			rec.Message = message.String
		}
		rec.StartedAt = startedAt.Time
		rec.FinishedAt = finishedAt.Time
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

func toPgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func pgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	v, err := u.Value()
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
