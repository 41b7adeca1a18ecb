// Package admin implements reviewer operations on candidates.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/screening-bot/internal/domain"
	"github.com/ashureev/screening-bot/internal/report"
	"github.com/ashureev/screening-bot/internal/store"
)

// ErrNotAuthorized is returned when the caller is not on the admin allow-list.
var ErrNotAuthorized = errors.New("not authorized")

// Store is the data store surface used by admin operations.
type Store interface {
	report.Reader
	EnsureCandidate(ctx context.Context, identity domain.Identity) (int64, error)
	GetCandidateByTelegramID(ctx context.Context, telegramID int64) (*domain.Candidate, error)
	ApproveCandidate(ctx context.Context, candidateID int64) error
	RevokeCandidate(ctx context.Context, candidateID int64) error
	ListCandidates(ctx context.Context, filter store.CandidateFilter) ([]*domain.Candidate, error)
	CandidateSummaries(ctx context.Context) ([]domain.CandidateSummary, error)
}

// Publisher receives approval changes.
type Publisher interface {
	Publish(change domain.Change)
}

// Allowlist is the set of Telegram IDs allowed to run admin commands.
type Allowlist map[int64]struct{}

// NewAllowlist builds an allow-list from IDs.
func NewAllowlist(ids []int64) Allowlist {
	a := make(Allowlist, len(ids))
	for _, id := range ids {
		a[id] = struct{}{}
	}
	return a
}

// Check returns ErrNotAuthorized for IDs outside the list.
func (a Allowlist) Check(telegramID int64) error {
	if _, ok := a[telegramID]; !ok {
		return ErrNotAuthorized
	}
	return nil
}

// ParseTelegramID parses a numeric Telegram user ID argument.
func ParseTelegramID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid telegram id %q", arg)
	}
	return id, nil
}

// Service performs admin operations. It is shared by chat commands, the
// HTTP API and the CLI.
type Service struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates an admin service. publisher may be nil.
func NewService(s Store, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, publisher: publisher, logger: logger, now: time.Now}
}

// Approve allows the Telegram user to start the interview. Users that have
// not contacted the bot yet are created so they can be invited in advance.
func (s *Service) Approve(ctx context.Context, telegramID int64) (*domain.Candidate, error) {
	candidate, err := s.store.GetCandidateByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	if candidate == nil {
		id, err := s.store.EnsureCandidate(ctx, domain.Identity{TelegramID: telegramID})
		if err != nil {
			return nil, fmt.Errorf("create candidate: %w", err)
		}
		candidate = &domain.Candidate{ID: id, Identity: domain.Identity{TelegramID: telegramID}}
	}

	if err := s.store.ApproveCandidate(ctx, candidate.ID); err != nil {
		return nil, fmt.Errorf("approve candidate: %w", err)
	}
	candidate.Approved = true

	s.logger.Info("candidate approved", "candidate_id", candidate.ID, "telegram_id", telegramID)
	s.publish(domain.ChangeCandidateApproved, candidate)
	return candidate, nil
}

// Revoke withdraws approval. Unknown users return store.ErrCandidateNotFound.
func (s *Service) Revoke(ctx context.Context, telegramID int64) (*domain.Candidate, error) {
	candidate, err := s.byTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RevokeCandidate(ctx, candidate.ID); err != nil {
		return nil, fmt.Errorf("revoke candidate: %w", err)
	}
	candidate.Approved = false

	s.logger.Info("candidate revoked", "candidate_id", candidate.ID, "telegram_id", telegramID)
	s.publish(domain.ChangeCandidateRevoked, candidate)
	return candidate, nil
}

// ApproveByID approves a candidate by store ID.
func (s *Service) ApproveByID(ctx context.Context, candidateID int64) (*domain.Candidate, error) {
	candidate, err := s.byID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return s.Approve(ctx, candidate.Identity.TelegramID)
}

// RevokeByID revokes a candidate by store ID.
func (s *Service) RevokeByID(ctx context.Context, candidateID int64) (*domain.Candidate, error) {
	candidate, err := s.byID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return s.Revoke(ctx, candidate.Identity.TelegramID)
}

// Report builds the report for a Telegram user.
func (s *Service) Report(ctx context.Context, telegramID int64) (*report.Report, error) {
	candidate, err := s.byTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	return report.Build(ctx, s.store, candidate.ID)
}

// ReportByID builds the report for a candidate ID.
func (s *Service) ReportByID(ctx context.Context, candidateID int64) (*report.Report, error) {
	return report.Build(ctx, s.store, candidateID)
}

// Pending lists candidates waiting for approval.
func (s *Service) Pending(ctx context.Context) ([]*domain.Candidate, error) {
	candidates, err := s.store.ListCandidates(ctx, store.CandidateFilter{PendingOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list pending candidates: %w", err)
	}
	return candidates, nil
}

// Summaries returns per-candidate aggregates, optionally only unapproved ones.
func (s *Service) Summaries(ctx context.Context, pendingOnly bool) ([]domain.CandidateSummary, error) {
	summaries, err := s.store.CandidateSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarize candidates: %w", err)
	}
	if !pendingOnly {
		return summaries, nil
	}
	pending := summaries[:0]
	for _, sum := range summaries {
		if !sum.Candidate.Approved {
			pending = append(pending, sum)
		}
	}
	return pending, nil
}

// Export writes the CSV export to w.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	summaries, err := s.Summaries(ctx, false)
	if err != nil {
		return err
	}
	return report.WriteCSV(w, summaries)
}

// ExportFile writes the CSV export to path and returns the row count.
func (s *Service) ExportFile(ctx context.Context, path string) (int, error) {
	summaries, err := s.Summaries(ctx, false)
	if err != nil {
		return 0, err
	}
	if err := report.WriteCSVFile(path, summaries); err != nil {
		return 0, err
	}
	return len(summaries), nil
}

func (s *Service) byTelegramID(ctx context.Context, telegramID int64) (*domain.Candidate, error) {
	candidate, err := s.store.GetCandidateByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	if candidate == nil {
		return nil, store.ErrCandidateNotFound
	}
	return candidate, nil
}

func (s *Service) byID(ctx context.Context, candidateID int64) (*domain.Candidate, error) {
	candidate, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	if candidate == nil {
		return nil, store.ErrCandidateNotFound
	}
	return candidate, nil
}

func (s *Service) publish(kind domain.ChangeKind, c *domain.Candidate) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(domain.Change{
		Kind:        kind,
		CandidateID: c.ID,
		Data:        map[string]any{"telegram_id": c.Identity.TelegramID},
		At:          s.now(),
	})
}
