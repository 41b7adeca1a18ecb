package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ashureev/screening-bot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "interview.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestEnsureCandidateIsIdempotent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	id1, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 42, Username: "ann"})
	require.NoError(t, err)
	id2, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 42, Username: "ann_new", FirstName: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	other, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 43})
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	c, err := repo.GetCandidateByTelegramID(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "ann_new", c.Identity.Username)
	assert.Equal(t, "Ann", c.Identity.FirstName)
	assert.False(t, c.Approved)
	assert.False(t, c.IsFinalized())
}

func TestApproveRevoke(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	id, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 1})
	require.NoError(t, err)

	approved, err := repo.IsApproved(ctx, id)
	require.NoError(t, err)
	assert.False(t, approved)

	require.NoError(t, repo.ApproveCandidate(ctx, id))
	approved, err = repo.IsApproved(ctx, id)
	require.NoError(t, err)
	assert.True(t, approved)

	require.NoError(t, repo.RevokeCandidate(ctx, id))
	approved, err = repo.IsApproved(ctx, id)
	require.NoError(t, err)
	assert.False(t, approved)

	assert.ErrorIs(t, repo.ApproveCandidate(ctx, 9999), ErrCandidateNotFound)
	_, err = repo.IsApproved(ctx, 9999)
	assert.ErrorIs(t, err, ErrCandidateNotFound)
}

func TestGetCandidateMissing(t *testing.T) {
	repo := newTestStore(t)
	c, err := repo.GetCandidate(context.Background(), 123)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSubmitAnswerAndSample(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	a, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 1})
	require.NoError(t, err)
	b, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 2})
	require.NoError(t, err)

	require.NoError(t, repo.StoreAnswer(ctx, &domain.Answer{CandidateID: a, QuestionIndex: 0, Text: "first"}))
	require.NoError(t, repo.StoreAnswer(ctx, &domain.Answer{
		CandidateID: a, QuestionIndex: 1, Kind: domain.AnswerKindVoice, Text: domain.VoicePlaceholder,
		Meta: domain.AnswerMeta{Type: domain.AnswerKindVoice, DurationSec: 4},
	}))

	answer := &domain.Answer{
		CandidateID: b, QuestionIndex: 0, Text: "second",
		Meta: domain.AnswerMeta{LatencyMS: 900, Signals: []string{"too_fast"}},
	}
	flags := []*domain.Flag{{Code: domain.FlagDuplicateAnswer, Severity: domain.SeveritySerious, Details: map[string]any{"score": 1.0}}}
	require.NoError(t, repo.SubmitAnswer(ctx, answer, flags))
	assert.NotZero(t, answer.ID)
	assert.NotEmpty(t, flags[0].ID)
	assert.Equal(t, b, flags[0].CandidateID)

	sample, err := repo.SampleRecentAnswers(ctx, 200, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.SampledAnswer{
		{CandidateID: b, Text: "second"},
		{CandidateID: a, Text: "first"},
	}, sample)

	sample, err = repo.SampleRecentAnswers(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, sample, 1)

	// The limit applies after the candidate's own answers are excluded.
	sample, err = repo.SampleRecentAnswers(ctx, 1, b)
	require.NoError(t, err)
	assert.Equal(t, []domain.SampledAnswer{{CandidateID: a, Text: "first"}}, sample)

	n, err := repo.AnsweredCount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	answers, err := repo.ListAnswers(ctx, b)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, int64(900), answers[0].Meta.LatencyMS)
	assert.Equal(t, []string{"too_fast"}, answers[0].Meta.Signals)
	assert.Equal(t, domain.AnswerKindText, answers[0].Meta.Type)

	stored, err := repo.ListFlags(ctx, b)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.FlagDuplicateAnswer, stored[0].Code)
	assert.Equal(t, 1.0, stored[0].Details["score"])
}

func TestSubmitAnswerRejectsDuplicateIndex(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	id, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 1})
	require.NoError(t, err)

	require.NoError(t, repo.StoreAnswer(ctx, &domain.Answer{CandidateID: id, QuestionIndex: 0, Text: "x"}))
	err = repo.SubmitAnswer(ctx, &domain.Answer{CandidateID: id, QuestionIndex: 0, Text: "y"},
		[]*domain.Flag{{Code: domain.FlagTooFast, Severity: domain.SeverityAdvisory}})
	require.Error(t, err)

	flags, err := repo.ListFlags(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, flags, "flag must roll back with the failed answer")
}

func TestFinalizeAndSummaries(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	id, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 5, Username: "bob"})
	require.NoError(t, err)
	_, err = repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 6})
	require.NoError(t, err)

	require.NoError(t, repo.StoreAnswer(ctx, &domain.Answer{CandidateID: id, QuestionIndex: 0, Text: "a"}))
	require.NoError(t, repo.RecordFlag(ctx, &domain.Flag{CandidateID: id, Code: domain.FlagTooShortVoice, Severity: domain.SeverityAdvisory}))
	require.NoError(t, repo.RecordFlag(ctx, &domain.Flag{CandidateID: id, Code: domain.FlagSelfieCodeMismatch, Severity: domain.SeveritySerious}))
	require.NoError(t, repo.RecordFlag(ctx, &domain.Flag{CandidateID: id, Code: domain.FlagTooShortVoice, Severity: domain.SeverityAdvisory}))
	require.NoError(t, repo.FinalizeInterview(ctx, id))
	assert.ErrorIs(t, repo.FinalizeInterview(ctx, 777), ErrCandidateNotFound)

	c, err := repo.GetCandidate(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.IsFinalized())

	summaries, err := repo.CandidateSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 1, summaries[0].AnswerCount)
	assert.Equal(t, 3, summaries[0].FlagCount)
	assert.Equal(t, domain.SeveritySerious, summaries[0].MaxSeverity)
	assert.Equal(t, []string{"selfie_code_mismatch", "too_short_voice"}, summaries[0].FlagCodes)
	assert.Equal(t, 0, summaries[1].FlagCount)
	assert.Nil(t, summaries[1].FlagCodes)

	pending, err := repo.ListCandidates(ctx, CandidateFilter{PendingOnly: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(6), pending[0].Identity.TelegramID)
}

func TestAuditEvents(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	id, err := repo.EnsureCandidate(ctx, domain.Identity{TelegramID: 8})
	require.NoError(t, err)

	require.NoError(t, repo.LogAuditEvent(ctx, &domain.AuditEvent{CandidateID: id, Event: domain.AuditChallengeIssued}))
	require.NoError(t, repo.LogAuditEvent(ctx, &domain.AuditEvent{
		CandidateID: id, Event: domain.AuditQuestionSent, Payload: map[string]any{"question_index": 0},
	}))

	events, err := repo.ListAuditEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.AuditChallengeIssued, events[0].Event)
	assert.Nil(t, events[0].Payload)
	assert.Equal(t, float64(0), events[1].Payload["question_index"])
}

func TestSubmitAnswerRollsBackOnFlagFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO answers").WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec("INSERT INTO flags").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.SubmitAnswer(context.Background(),
		&domain.Answer{CandidateID: 1, QuestionIndex: 2, Text: "answer"},
		[]*domain.Flag{{Code: domain.FlagDuplicateAnswer, Severity: domain.SeveritySerious}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert flag")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitAnswerRetriesBusyDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newWithDB(db)
	s.retry.BaseDelay = 0

	mock.ExpectBegin().WillReturnError(fmt.Errorf("begin: %w", errors.New("database is locked")))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO answers").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	answer := &domain.Answer{CandidateID: 1, QuestionIndex: 0, Text: "ok"}
	require.NoError(t, s.SubmitAnswer(context.Background(), answer, nil))
	assert.Equal(t, int64(3), answer.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
