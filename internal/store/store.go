// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/screening-bot/internal/domain"
)

// ErrCandidateNotFound is returned by operations that require an existing candidate.
var ErrCandidateNotFound = errors.New("candidate not found")

// CandidateFilter narrows ListCandidates.
type CandidateFilter struct {
	PendingOnly bool
	Limit       int
}

// Repository defines the interface for persisting candidates, answers, flags and audit events.
type Repository interface {
	// EnsureCandidate returns the candidate ID for the identity, creating the
	// candidate on first contact. Display fields are refreshed on every call.
	EnsureCandidate(ctx context.Context, identity domain.Identity) (int64, error)

	// GetCandidate retrieves a candidate by ID. Returns nil when not found.
	GetCandidate(ctx context.Context, candidateID int64) (*domain.Candidate, error)

	// GetCandidateByTelegramID retrieves a candidate by the transport identity. Returns nil when not found.
	GetCandidateByTelegramID(ctx context.Context, telegramID int64) (*domain.Candidate, error)

	// IsApproved reports whether an admin approved the candidate.
	IsApproved(ctx context.Context, candidateID int64) (bool, error)

	// ApproveCandidate marks the candidate as allowed to start the interview.
	ApproveCandidate(ctx context.Context, candidateID int64) error

	// RevokeCandidate withdraws a previous approval.
	RevokeCandidate(ctx context.Context, candidateID int64) error

	// StoreAnswer persists a single answer.
	StoreAnswer(ctx context.Context, answer *domain.Answer) error

	// SubmitAnswer persists an answer together with its flags in one transaction.
	SubmitAnswer(ctx context.Context, answer *domain.Answer, flags []*domain.Flag) error

	// AnsweredCount returns the number of answers stored for a candidate.
	AnsweredCount(ctx context.Context, candidateID int64) (int, error)

	// RecordFlag persists an integrity flag.
	RecordFlag(ctx context.Context, flag *domain.Flag) error

	// LogAuditEvent appends an audit event.
	LogAuditEvent(ctx context.Context, event *domain.AuditEvent) error

	// SampleRecentAnswers returns up to limit text answers written by other
	// candidates than excludeCandidateID, most recent first.
	SampleRecentAnswers(ctx context.Context, limit int, excludeCandidateID int64) ([]domain.SampledAnswer, error)

	// FinalizeInterview records that the candidate completed the question loop.
	FinalizeInterview(ctx context.Context, candidateID int64) error

	// ListCandidates returns candidates, newest first.
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]*domain.Candidate, error)

	// ListAnswers returns a candidate's answers ordered by question index.
	ListAnswers(ctx context.Context, candidateID int64) ([]*domain.Answer, error)

	// ListFlags returns a candidate's flags in recording order.
	ListFlags(ctx context.Context, candidateID int64) ([]*domain.Flag, error)

	// ListAuditEvents returns a candidate's audit events in recording order.
	ListAuditEvents(ctx context.Context, candidateID int64) ([]*domain.AuditEvent, error)

	// CandidateSummaries aggregates answers and flags per candidate.
	CandidateSummaries(ctx context.Context) ([]domain.CandidateSummary, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
