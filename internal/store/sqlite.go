package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/screening-bot/internal/domain"
	"github.com/ashureev/screening-bot/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
	now   func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the report/export readers run alongside interview writes.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := newWithDB(db)
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func newWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:    db,
		retry: shared.DefaultRetryPolicy,
		now:   time.Now,
	}
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS candidates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telegram_id INTEGER NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		approved INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		finalized_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_id INTEGER NOT NULL REFERENCES candidates(id),
		question_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		meta_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (candidate_id, question_index)
	);
	CREATE INDEX IF NOT EXISTS idx_answers_kind_recent ON answers(kind, id DESC);

	CREATE TABLE IF NOT EXISTS flags (
		id TEXT PRIMARY KEY,
		candidate_id INTEGER NOT NULL REFERENCES candidates(id),
		code TEXT NOT NULL,
		severity INTEGER NOT NULL,
		details_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flags_candidate ON flags(candidate_id);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		candidate_id INTEGER NOT NULL REFERENCES candidates(id),
		event TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_candidate ON audit_events(candidate_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// EnsureCandidate creates the candidate on first contact and returns its ID.
func (s *SQLiteStore) EnsureCandidate(ctx context.Context, identity domain.Identity) (int64, error) {
	query := `
	INSERT INTO candidates (telegram_id, username, first_name, last_name, approved, created_at)
	VALUES (?, ?, ?, ?, 0, ?)
	ON CONFLICT(telegram_id) DO UPDATE SET
		username = excluded.username,
		first_name = excluded.first_name,
		last_name = excluded.last_name
	RETURNING id`

	var id int64
	err := shared.RetryOnConflict(ctx, s.retry, "ensure candidate", func() error {
		return s.db.QueryRowContext(ctx, query,
			identity.TelegramID, identity.Username, identity.FirstName, identity.LastName,
			s.now().Unix(),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("ensure candidate: %w", err)
	}
	return id, nil
}

const candidateColumns = `id, telegram_id, username, first_name, last_name, approved, created_at, finalized_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner, extra ...any) (*domain.Candidate, error) {
	var c domain.Candidate
	var createdAt int64
	var finalizedAt sql.NullInt64

	dest := []any{
		&c.ID, &c.Identity.TelegramID, &c.Identity.Username,
		&c.Identity.FirstName, &c.Identity.LastName, &c.Approved,
		&createdAt, &finalizedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	c.CreatedAt = time.Unix(createdAt, 0)
	if finalizedAt.Valid {
		ts := time.Unix(finalizedAt.Int64, 0)
		c.FinalizedAt = &ts
	}
	return &c, nil
}

// GetCandidate retrieves a candidate by ID.
func (s *SQLiteStore) GetCandidate(ctx context.Context, candidateID int64) (*domain.Candidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, candidateID)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan candidate row: %w", err)
	}
	return c, nil
}

// GetCandidateByTelegramID retrieves a candidate by transport identity.
func (s *SQLiteStore) GetCandidateByTelegramID(ctx context.Context, telegramID int64) (*domain.Candidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE telegram_id = ?`, telegramID)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan candidate row: %w", err)
	}
	return c, nil
}

// IsApproved reports whether the candidate may start the interview.
func (s *SQLiteStore) IsApproved(ctx context.Context, candidateID int64) (bool, error) {
	var approved bool
	err := s.db.QueryRowContext(ctx, `SELECT approved FROM candidates WHERE id = ?`, candidateID).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrCandidateNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query approval: %w", err)
	}
	return approved, nil
}

// ApproveCandidate sets the approval flag.
func (s *SQLiteStore) ApproveCandidate(ctx context.Context, candidateID int64) error {
	return s.setApproved(ctx, candidateID, true)
}

// RevokeCandidate clears the approval flag.
func (s *SQLiteStore) RevokeCandidate(ctx context.Context, candidateID int64) error {
	return s.setApproved(ctx, candidateID, false)
}

func (s *SQLiteStore) setApproved(ctx context.Context, candidateID int64, approved bool) error {
	var result sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, "update approval", func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, `UPDATE candidates SET approved = ? WHERE id = ?`, approved, candidateID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	return requireRow(result, candidateID)
}

func requireRow(result sql.Result, candidateID int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("candidate update affected 0 rows", "candidate_id", candidateID)
		return ErrCandidateNotFound
	}
	return nil
}

// FinalizeInterview stamps the completion time once; later calls keep the first stamp.
func (s *SQLiteStore) FinalizeInterview(ctx context.Context, candidateID int64) error {
	var result sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, "finalize interview", func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx,
			`UPDATE candidates SET finalized_at = COALESCE(finalized_at, ?) WHERE id = ?`,
			s.now().Unix(), candidateID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("finalize interview: %w", err)
	}
	return requireRow(result, candidateID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insertAnswer(ctx context.Context, ex execer, answer *domain.Answer) error {
	if answer.Kind == "" {
		answer.Kind = domain.AnswerKindText
	}
	if answer.Meta.Type == "" {
		answer.Meta.Type = answer.Kind
	}
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = s.now()
	}

	meta, err := json.Marshal(answer.Meta)
	if err != nil {
		return fmt.Errorf("marshal answer meta: %w", err)
	}

	result, err := ex.ExecContext(ctx, `
		INSERT INTO answers (candidate_id, question_index, kind, text, meta_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		answer.CandidateID, answer.QuestionIndex, string(answer.Kind), answer.Text,
		string(meta), answer.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get answer id: %w", err)
	}
	answer.ID = id
	return nil
}

func (s *SQLiteStore) insertFlag(ctx context.Context, ex execer, flag *domain.Flag) error {
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = s.now()
	}

	details, err := marshalBag(flag.Details)
	if err != nil {
		return fmt.Errorf("marshal flag details: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO flags (id, candidate_id, code, severity, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		flag.ID, flag.CandidateID, string(flag.Code), int(flag.Severity), details, flag.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

func marshalBag(bag map[string]any) (string, error) {
	if bag == nil {
		return "{}", nil
	}
	data, err := json.Marshal(bag)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalBag(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var bag map[string]any
	if err := json.Unmarshal([]byte(raw), &bag); err != nil {
		slog.Warn("failed to decode stored json bag", "error", err)
		return nil
	}
	return bag
}

// StoreAnswer persists a single answer.
func (s *SQLiteStore) StoreAnswer(ctx context.Context, answer *domain.Answer) error {
	return s.SubmitAnswer(ctx, answer, nil)
}

// SubmitAnswer writes the answer and its flags atomically.
func (s *SQLiteStore) SubmitAnswer(ctx context.Context, answer *domain.Answer, flags []*domain.Flag) error {
	return shared.RetryOnConflict(ctx, s.retry, "submit answer", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back answer transaction", "error", rbErr)
			}
		}()

		if err := s.insertAnswer(ctx, tx, answer); err != nil {
			return err
		}
		for _, flag := range flags {
			if flag.CandidateID == 0 {
				flag.CandidateID = answer.CandidateID
			}
			if err := s.insertFlag(ctx, tx, flag); err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit answer: %w", err)
		}
		return nil
	})
}

// AnsweredCount returns the number of stored answers for the candidate.
func (s *SQLiteStore) AnsweredCount(ctx context.Context, candidateID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers WHERE candidate_id = ?`, candidateID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return n, nil
}

// RecordFlag persists an integrity flag.
func (s *SQLiteStore) RecordFlag(ctx context.Context, flag *domain.Flag) error {
	return shared.RetryOnConflict(ctx, s.retry, "record flag", func() error {
		return s.insertFlag(ctx, s.db, flag)
	})
}

// LogAuditEvent appends an audit event.
func (s *SQLiteStore) LogAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	payload, err := marshalBag(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	return shared.RetryOnConflict(ctx, s.retry, "log audit event", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_events (id, candidate_id, event, payload_json, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			event.ID, event.CandidateID, event.Event, payload, event.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}
		return nil
	})
}

// SampleRecentAnswers returns the newest text answers of candidates other than
// excludeCandidateID.
func (s *SQLiteStore) SampleRecentAnswers(ctx context.Context, limit int, excludeCandidateID int64) ([]domain.SampledAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, text FROM answers
		WHERE kind = ? AND candidate_id != ?
		ORDER BY id DESC
		LIMIT ?`, string(domain.AnswerKindText), excludeCandidateID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent answers: %w", err)
	}
	defer closeRows(rows, "recent answers")

	sample := make([]domain.SampledAnswer, 0, limit)
	for rows.Next() {
		var a domain.SampledAnswer
		if err := rows.Scan(&a.CandidateID, &a.Text); err != nil {
			return nil, fmt.Errorf("scan recent answer: %w", err)
		}
		sample = append(sample, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent answers: %w", err)
	}
	return sample, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

// ListCandidates returns candidates, newest first.
func (s *SQLiteStore) ListCandidates(ctx context.Context, filter CandidateFilter) ([]*domain.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates`
	var args []any
	if filter.PendingOnly {
		query += ` WHERE approved = 0 AND finalized_at IS NULL`
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer closeRows(rows, "candidates")

	var candidates []*domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}

// ListAnswers returns the candidate's answers ordered by question index.
func (s *SQLiteStore) ListAnswers(ctx context.Context, candidateID int64) ([]*domain.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, candidate_id, question_index, kind, text, meta_json, created_at
		FROM answers WHERE candidate_id = ?
		ORDER BY question_index`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer closeRows(rows, "answers")

	var answers []*domain.Answer
	for rows.Next() {
		var a domain.Answer
		var kind, meta string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.CandidateID, &a.QuestionIndex, &kind, &a.Text, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan answer row: %w", err)
		}
		a.Kind = domain.AnswerKind(kind)
		a.CreatedAt = time.Unix(createdAt, 0)
		if err := json.Unmarshal([]byte(meta), &a.Meta); err != nil {
			return nil, fmt.Errorf("decode answer meta: %w", err)
		}
		answers = append(answers, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return answers, nil
}

// ListFlags returns the candidate's flags in recording order.
func (s *SQLiteStore) ListFlags(ctx context.Context, candidateID int64) ([]*domain.Flag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, candidate_id, code, severity, details_json, created_at
		FROM flags WHERE candidate_id = ?
		ORDER BY created_at, rowid`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer closeRows(rows, "flags")

	var flags []*domain.Flag
	for rows.Next() {
		var f domain.Flag
		var code, details string
		var severity int
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.CandidateID, &code, &severity, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan flag row: %w", err)
		}
		f.Code = domain.FlagCode(code)
		f.Severity = domain.Severity(severity)
		f.Details = unmarshalBag(details)
		f.CreatedAt = time.Unix(createdAt, 0)
		flags = append(flags, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}
	return flags, nil
}

// ListAuditEvents returns the candidate's audit trail in recording order.
func (s *SQLiteStore) ListAuditEvents(ctx context.Context, candidateID int64) ([]*domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, candidate_id, event, payload_json, created_at
		FROM audit_events WHERE candidate_id = ?
		ORDER BY created_at, rowid`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer closeRows(rows, "audit events")

	var events []*domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var payload string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.CandidateID, &e.Event, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Payload = unmarshalBag(payload)
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// CandidateSummaries aggregates answers and flags per candidate, ordered by ID.
func (s *SQLiteStore) CandidateSummaries(ctx context.Context) ([]domain.CandidateSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+candidateColumns+`,
			(SELECT COUNT(*) FROM answers a WHERE a.candidate_id = candidates.id),
			(SELECT COUNT(*) FROM flags f WHERE f.candidate_id = candidates.id),
			(SELECT COALESCE(MAX(f.severity), 0) FROM flags f WHERE f.candidate_id = candidates.id),
			(SELECT COALESCE(GROUP_CONCAT(DISTINCT f.code), '') FROM flags f WHERE f.candidate_id = candidates.id)
		FROM candidates
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query candidate summaries: %w", err)
	}
	defer closeRows(rows, "candidate summaries")

	var summaries []domain.CandidateSummary
	for rows.Next() {
		var sum domain.CandidateSummary
		var maxSeverity int
		var codes string
		c, err := scanCandidate(rows, &sum.AnswerCount, &sum.FlagCount, &maxSeverity, &codes)
		if err != nil {
			return nil, fmt.Errorf("scan candidate summary: %w", err)
		}
		sum.Candidate = *c
		sum.MaxSeverity = domain.Severity(maxSeverity)
		if codes != "" {
			sum.FlagCodes = strings.Split(codes, ",")
			sort.Strings(sum.FlagCodes)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate summaries: %w", err)
	}
	return summaries, nil
}
