package interview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/screening-bot/internal/domain"
)

var errUniqueAnswer = errors.New("UNIQUE constraint failed: answers.candidate_id, answers.question_index")

type fakeRepo struct {
	mu          sync.Mutex
	nextID      int64
	candidates  map[int64]*domain.Candidate
	byTelegram  map[int64]int64
	answers     []*domain.Answer
	flags       []*domain.Flag
	audits      []*domain.AuditEvent
	calls       int
	approveAll  bool
	submitErr   error
	flagErr     error
	auditErr    error
	finalizeErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		candidates: make(map[int64]*domain.Candidate),
		byTelegram: make(map[int64]int64),
		approveAll: true,
	}
}

func (r *fakeRepo) EnsureCandidate(_ context.Context, identity domain.Identity) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if id, ok := r.byTelegram[identity.TelegramID]; ok {
		return id, nil
	}
	r.nextID++
	r.candidates[r.nextID] = &domain.Candidate{ID: r.nextID, Identity: identity, Approved: r.approveAll}
	r.byTelegram[identity.TelegramID] = r.nextID
	return r.nextID, nil
}

func (r *fakeRepo) GetCandidate(_ context.Context, candidateID int64) (*domain.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	c, ok := r.candidates[candidateID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) IsApproved(_ context.Context, candidateID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	c, ok := r.candidates[candidateID]
	return ok && c.Approved, nil
}

func (r *fakeRepo) AnsweredCount(_ context.Context, candidateID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	n := 0
	for _, a := range r.answers {
		if a.CandidateID == candidateID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) SubmitAnswer(_ context.Context, answer *domain.Answer, flags []*domain.Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.submitErr != nil {
		return r.submitErr
	}
	for _, a := range r.answers {
		if a.CandidateID == answer.CandidateID && a.QuestionIndex == answer.QuestionIndex {
			return errUniqueAnswer
		}
	}
	answer.ID = int64(len(r.answers) + 1)
	r.answers = append(r.answers, answer)
	r.flags = append(r.flags, flags...)
	return nil
}

func (r *fakeRepo) RecordFlag(_ context.Context, flag *domain.Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.flagErr != nil {
		return r.flagErr
	}
	r.flags = append(r.flags, flag)
	return nil
}

func (r *fakeRepo) LogAuditEvent(_ context.Context, event *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.auditErr != nil {
		return r.auditErr
	}
	r.audits = append(r.audits, event)
	return nil
}

func (r *fakeRepo) SampleRecentAnswers(_ context.Context, limit int, excludeCandidateID int64) ([]domain.SampledAnswer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	var out []domain.SampledAnswer
	for i := len(r.answers) - 1; i >= 0 && len(out) < limit; i-- {
		if a := r.answers[i]; a.Kind == domain.AnswerKindText && a.CandidateID != excludeCandidateID {
			out = append(out, domain.SampledAnswer{CandidateID: a.CandidateID, Text: a.Text})
		}
	}
	return out, nil
}

func (r *fakeRepo) FinalizeInterview(_ context.Context, candidateID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.finalizeErr != nil {
		return r.finalizeErr
	}
	c, ok := r.candidates[candidateID]
	if !ok {
		return fmt.Errorf("candidate %d not found", candidateID)
	}
	now := time.Now()
	c.FinalizedAt = &now
	return nil
}

func (r *fakeRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRepo) answersFor(candidateID int64) []*domain.Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Answer
	for _, a := range r.answers {
		if a.CandidateID == candidateID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out
}

func (r *fakeRepo) flagsWith(code domain.FlagCode) []*domain.Flag {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Flag
	for _, f := range r.flags {
		if f.Code == code {
			out = append(out, f)
		}
	}
	return out
}

func (r *fakeRepo) auditNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.audits))
	for _, a := range r.audits {
		names = append(names, a.Event)
	}
	return names
}

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) SendMessage(_ context.Context, chatID int64, text string, _ SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (s *fakeSender) messages(chatID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (s *fakeSender) last(chatID int64) string {
	msgs := s.messages(chatID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (p *recordingPublisher) Publish(change domain.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
}

func (p *recordingPublisher) kinds() []domain.ChangeKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ChangeKind, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, c.Kind)
	}
	return out
}
