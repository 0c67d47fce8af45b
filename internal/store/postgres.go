// Package store persists transcription artifacts in PostgreSQL: the running
// per-case transcript with its folded clinical note, and the archive of
// summarized sessions. A single [pgxpool.Pool] backs both.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verbamed/verbamed/internal/summary"
)

var (
	_ summary.Archive         = (*Postgres)(nil)
	_ summary.TranscriptStore = (*Postgres)(nil)
)

const ddlTranscriptions = `
CREATE TABLE IF NOT EXISTS transcriptions (
    id                          BIGSERIAL    PRIMARY KEY,
    case_id                     TEXT         NOT NULL,
    text                        TEXT         NOT NULL,
    chief_complaint             TEXT         NOT NULL DEFAULT '',
    history_of_present_illness  TEXT         NOT NULL DEFAULT '',
    other_relevant_info         TEXT         NOT NULL DEFAULT '',
    created_at                  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_case_id
    ON transcriptions (case_id);
`

const ddlArchivedSessions = `
CREATE TABLE IF NOT EXISTS archived_sessions (
    session_id   TEXT         PRIMARY KEY,
    case_id      TEXT         NOT NULL,
    segments     JSONB        NOT NULL,
    summary      JSONB        NOT NULL,
    archived_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_archived_sessions_case_id
    ON archived_sessions (case_id);
`

// Postgres implements [summary.Archive] and [summary.TranscriptStore] on a
// pgx connection pool. All operations are safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database at dsn, verifies
// connectivity, and runs [Migrate] so the required tables exist.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the transcription tables if they are missing. It is safe to
// run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlTranscriptions, ddlArchivedSessions} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// TranscriptText returns the stored transcript text for the case, oldest
// record first. Under normal operation there is at most one record per case;
// any stragglers from interrupted replacements are concatenated in creation
// order so no text is lost.
func (p *Postgres) TranscriptText(ctx context.Context, caseID string) (string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT text FROM transcriptions WHERE case_id = $1 ORDER BY created_at, id`,
		caseID)
	if err != nil {
		return "", fmt.Errorf("store: query transcript for case %s: %w", caseID, err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", fmt.Errorf("store: scan transcript row: %w", err)
		}
		parts = append(parts, text)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("store: read transcript rows: %w", err)
	}
	return strings.Join(parts, "\n"), nil
}

// ReplaceTranscript substitutes the case's entire stored transcript and note
// in one transaction: delete every record for the case, insert exactly one.
// Retrying the same replacement converges on a single identical record.
func (p *Postgres) ReplaceTranscript(ctx context.Context, caseID, text string, note summary.StructuredNote) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin replace for case %s: %w", caseID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM transcriptions WHERE case_id = $1`, caseID); err != nil {
		return fmt.Errorf("store: delete transcript for case %s: %w", caseID, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO transcriptions (case_id, text, chief_complaint, history_of_present_illness, other_relevant_info)
		 VALUES ($1, $2, $3, $4, $5)`,
		caseID, text, note.ChiefComplaint, note.HistoryOfPresentIllness, note.OtherRelevantInfo); err != nil {
		return fmt.Errorf("store: insert transcript for case %s: %w", caseID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit replace for case %s: %w", caseID, err)
	}
	return nil
}

// StructuredNote returns the folded note stored for the case, or false when
// the case has no transcript yet.
func (p *Postgres) StructuredNote(ctx context.Context, caseID string) (summary.StructuredNote, bool, error) {
	var note summary.StructuredNote
	err := p.pool.QueryRow(ctx,
		`SELECT chief_complaint, history_of_present_illness, other_relevant_info
		 FROM transcriptions WHERE case_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		caseID).Scan(&note.ChiefComplaint, &note.HistoryOfPresentIllness, &note.OtherRelevantInfo)
	if errors.Is(err, pgx.ErrNoRows) {
		return summary.StructuredNote{}, false, nil
	}
	if err != nil {
		return summary.StructuredNote{}, false, fmt.Errorf("store: query note for case %s: %w", caseID, err)
	}
	return note, true, nil
}

// ArchiveSession stores a summarized conversation. Re-archiving the same
// session id overwrites the previous record.
func (p *Postgres) ArchiveSession(ctx context.Context, conv summary.ArchivedConversation) error {
	segments, err := json.Marshal(conv.Segments)
	if err != nil {
		return fmt.Errorf("store: marshal segments for session %s: %w", conv.SessionID, err)
	}
	sum, err := json.Marshal(conv.Summary)
	if err != nil {
		return fmt.Errorf("store: marshal summary for session %s: %w", conv.SessionID, err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO archived_sessions (session_id, case_id, segments, summary, archived_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE
		 SET case_id = EXCLUDED.case_id,
		     segments = EXCLUDED.segments,
		     summary = EXCLUDED.summary,
		     archived_at = EXCLUDED.archived_at`,
		conv.SessionID, conv.CaseID, segments, sum, conv.ArchivedAt)
	if err != nil {
		return fmt.Errorf("store: archive session %s: %w", conv.SessionID, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
