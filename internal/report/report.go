// Package report renders candidate reports and CSV exports.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/screening-bot/internal/domain"
	"github.com/ashureev/screening-bot/internal/store"
)

// Reader is the read side of the data store used for reports.
type Reader interface {
	GetCandidate(ctx context.Context, candidateID int64) (*domain.Candidate, error)
	ListAnswers(ctx context.Context, candidateID int64) ([]*domain.Answer, error)
	ListFlags(ctx context.Context, candidateID int64) ([]*domain.Flag, error)
	ListAuditEvents(ctx context.Context, candidateID int64) ([]*domain.AuditEvent, error)
}

// Report is everything recorded for one candidate.
type Report struct {
	Candidate   *domain.Candidate    `json:"candidate"`
	Answers     []*domain.Answer     `json:"answers"`
	Flags       []*domain.Flag       `json:"flags"`
	AuditEvents []*domain.AuditEvent `json:"audit_events"`
}

// MaxSeverity returns the highest flag severity, or zero without flags.
func (r *Report) MaxSeverity() domain.Severity {
	var highest domain.Severity
	for _, f := range r.Flags {
		if f.Severity > highest {
			highest = f.Severity
		}
	}
	return highest
}

// Build loads the report for a candidate. It returns store.ErrCandidateNotFound
// for unknown IDs.
func Build(ctx context.Context, repo Reader, candidateID int64) (*Report, error) {
	candidate, err := repo.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	if candidate == nil {
		return nil, store.ErrCandidateNotFound
	}

	answers, err := repo.ListAnswers(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	flags, err := repo.ListFlags(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	events, err := repo.ListAuditEvents(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	return &Report{Candidate: candidate, Answers: answers, Flags: flags, AuditEvents: events}, nil
}

// Text renders a plain text report. questions labels answers by index when
// long enough.
func Text(r *Report, questions []string) string {
	var b strings.Builder
	c := r.Candidate

	fmt.Fprintf(&b, "Candidate #%d %s (telegram %d)\n", c.ID, c.Identity.DisplayName(), c.Identity.TelegramID)
	fmt.Fprintf(&b, "Approved: %s\n", yesNo(c.Approved))
	if c.FinalizedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", c.FinalizedAt.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("Completed: no\n")
	}

	fmt.Fprintf(&b, "\nAnswers (%d)\n", len(r.Answers))
	for _, a := range r.Answers {
		label := fmt.Sprintf("Q%d", a.QuestionIndex+1)
		if a.QuestionIndex < len(questions) {
			label += " " + questions[a.QuestionIndex]
		}
		fmt.Fprintf(&b, "%s\n  %s\n", label, a.Text)
		if a.Meta.Type == domain.AnswerKindVoice {
			fmt.Fprintf(&b, "  voice, %ds\n", a.Meta.DurationSec)
		} else {
			fmt.Fprintf(&b, "  latency %s", time.Duration(a.Meta.LatencyMS)*time.Millisecond)
			if len(a.Meta.Signals) > 0 {
				fmt.Fprintf(&b, ", signals: %s", strings.Join(a.Meta.Signals, ", "))
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nFlags (%d, max severity %s)\n", len(r.Flags), r.MaxSeverity())
	for _, f := range r.Flags {
		fmt.Fprintf(&b, "- %s [%s]%s\n", f.Code, f.Severity, formatDetails(f.Details))
	}
	return b.String()
}

func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return " " + strings.Join(parts, " ")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
