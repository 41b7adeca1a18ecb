package interview

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/screening-bot/internal/anticheat"
	"github.com/ashureev/screening-bot/internal/domain"
)

const (
	// MinSelfieBytes is the file size below which a selfie is flagged as low quality.
	MinSelfieBytes = 30000
	// MinVoiceDuration is the duration below which a voice answer is flagged.
	MinVoiceDuration = 2 * time.Second
	// warningSignals is the signal count that triggers the integrity warning.
	warningSignals = 2
)

// Repository is the subset of the data store the orchestrator needs.
type Repository interface {
	EnsureCandidate(ctx context.Context, identity domain.Identity) (int64, error)
	GetCandidate(ctx context.Context, candidateID int64) (*domain.Candidate, error)
	IsApproved(ctx context.Context, candidateID int64) (bool, error)
	AnsweredCount(ctx context.Context, candidateID int64) (int, error)
	SubmitAnswer(ctx context.Context, answer *domain.Answer, flags []*domain.Flag) error
	RecordFlag(ctx context.Context, flag *domain.Flag) error
	LogAuditEvent(ctx context.Context, event *domain.AuditEvent) error
	SampleRecentAnswers(ctx context.Context, limit int, excludeCandidateID int64) ([]domain.SampledAnswer, error)
	FinalizeInterview(ctx context.Context, candidateID int64) error
}

// Sender delivers outbound messages to a conversation.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error
}

// Publisher receives persisted changes. Implementations must not block.
type Publisher interface {
	Publish(change domain.Change)
}

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Questions []string
	Messages  *Messages
	Policy    *anticheat.Policy
	Codes     CodeSource
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Orchestrator drives each conversation through the identity challenge and
// the question sequence.
type Orchestrator struct {
	repo      Repository
	sender    Sender
	sessions  *SessionStore
	engine    *anticheat.Engine
	questions []string
	messages  Messages
	codes     CodeSource
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator with its own session store.
func NewOrchestrator(repo Repository, sender Sender, opts Options) *Orchestrator {
	o := &Orchestrator{
		repo:      repo,
		sender:    sender,
		sessions:  NewSessionStore(),
		questions: opts.Questions,
		messages:  DefaultMessages(),
		codes:     opts.Codes,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if len(o.questions) == 0 {
		o.questions = DefaultQuestions
	}
	if opts.Messages != nil {
		o.messages = *opts.Messages
	}
	policy := anticheat.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	o.engine = anticheat.NewEngine(policy)
	if o.codes == nil {
		o.codes = RandomCodes(nil)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Sessions exposes the session store.
func (o *Orchestrator) Sessions() *SessionStore {
	return o.sessions
}

// QuestionCount returns the length of the question sequence.
func (o *Orchestrator) QuestionCount() int {
	return len(o.questions)
}

// Handle applies one inbound event. Events that do not fit the current state
// are dropped without side effects. A returned error means a persistence
// step failed. The session is then left as it was, except after a failed
// finalize, where it is kept on the completed step so the next answer event
// retries the finalize.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) error {
	// A transition that has started runs to completion.
	ctx = context.WithoutCancel(ctx)

	switch ev.Kind {
	case EventCommand:
		if ev.Command != CommandStart {
			return nil
		}
		return o.update(ev.ChatID, func(cur *Session) (*Session, error) {
			return o.start(ctx, ev, cur)
		})
	case EventPhoto:
		return o.update(ev.ChatID, func(cur *Session) (*Session, error) {
			return o.photo(ctx, ev, cur)
		})
	case EventVoice:
		return o.update(ev.ChatID, func(cur *Session) (*Session, error) {
			return o.voice(ctx, ev, cur)
		})
	case EventText:
		return o.update(ev.ChatID, func(cur *Session) (*Session, error) {
			return o.text(ctx, ev, cur)
		})
	default:
		o.logger.Debug("dropping unsupported event", "chat_id", ev.ChatID, "kind", ev.Kind)
		return nil
	}
}

// committedError carries a failure that happened after the transition's
// session was already decided. The session is stored and the error reported.
type committedError struct {
	err error
}

func (e *committedError) Error() string { return e.err.Error() }

func (e *committedError) Unwrap() error { return e.err }

// update runs fn through the session store and reports a committedError only
// after the session it came with has been stored.
func (o *Orchestrator) update(chatID int64, fn func(cur *Session) (*Session, error)) error {
	var committed *committedError
	err := o.sessions.Update(chatID, func(cur *Session) (*Session, error) {
		next, err := fn(cur)
		if errors.As(err, &committed) {
			return next, nil
		}
		return next, err
	})
	if err != nil {
		return err
	}
	if committed != nil {
		return committed.err
	}
	return nil
}

func (o *Orchestrator) start(ctx context.Context, ev Event, cur *Session) (*Session, error) {
	if cur != nil {
		o.logger.Debug("start ignored, session active", "chat_id", ev.ChatID, "state", cur.State.String())
		return cur, nil
	}

	candidateID, err := o.repo.EnsureCandidate(ctx, ev.From)
	if err != nil {
		return nil, o.abort(ctx, ev.ChatID, fmt.Errorf("ensure candidate: %w", err))
	}

	approved, err := o.repo.IsApproved(ctx, candidateID)
	if err != nil {
		return nil, o.abort(ctx, ev.ChatID, fmt.Errorf("check approval: %w", err))
	}
	if !approved {
		o.logger.Info("start rejected, candidate not approved", "chat_id", ev.ChatID, "candidate_id", candidateID)
		o.send(ctx, ev.ChatID, o.messages.NotApproved)
		return nil, nil
	}

	candidate, err := o.repo.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, o.abort(ctx, ev.ChatID, fmt.Errorf("get candidate: %w", err))
	}
	if candidate != nil && candidate.IsFinalized() {
		o.send(ctx, ev.ChatID, o.messages.AlreadyCompleted)
		return nil, nil
	}

	answered, err := o.repo.AnsweredCount(ctx, candidateID)
	if err != nil {
		return nil, o.abort(ctx, ev.ChatID, fmt.Errorf("count answers: %w", err))
	}

	code, err := o.codes()
	if err != nil {
		return nil, o.abort(ctx, ev.ChatID, err)
	}

	sess := &Session{
		State:         StateIdentityChallenge,
		Step:          answered,
		StartedAt:     o.now(),
		CandidateID:   candidateID,
		ChallengeCode: code,
	}

	o.send(ctx, ev.ChatID, o.messages.Welcome)
	o.send(ctx, ev.ChatID, fmt.Sprintf(o.messages.ChallengeFormat, code))
	o.send(ctx, ev.ChatID, o.messages.Instructions)
	o.audit(ctx, candidateID, domain.AuditChallengeIssued, map[string]any{"resume_step": answered})

	o.logger.Info("identity challenge issued", "chat_id", ev.ChatID, "candidate_id", candidateID, "resume_step", answered)
	return sess, nil
}

func (o *Orchestrator) photo(ctx context.Context, ev Event, cur *Session) (*Session, error) {
	if cur == nil || cur.State != StateIdentityChallenge {
		return cur, nil
	}

	if !strings.Contains(ev.Caption, cur.ChallengeCode) {
		flag := &domain.Flag{
			CandidateID: cur.CandidateID,
			Code:        domain.FlagSelfieCodeMismatch,
			Severity:    domain.SeveritySerious,
			Details:     map[string]any{"expected": cur.ChallengeCode, "received": ev.Caption},
		}
		if err := o.repo.RecordFlag(ctx, flag); err != nil {
			return cur, o.abort(ctx, ev.ChatID, fmt.Errorf("record mismatch flag: %w", err))
		}
		o.publishFlags(flag)
		o.send(ctx, ev.ChatID, o.messages.CodeMismatch)
		return cur, nil
	}

	best := largestPhoto(ev.Photos)
	if best.FileSize < MinSelfieBytes {
		flag := &domain.Flag{
			CandidateID: cur.CandidateID,
			Code:        domain.FlagLowQualitySelfie,
			Severity:    domain.SeverityAdvisory,
			Details:     map[string]any{"file_size": best.FileSize, "min_size": MinSelfieBytes},
		}
		if err := o.repo.RecordFlag(ctx, flag); err != nil {
			return cur, o.abort(ctx, ev.ChatID, fmt.Errorf("record low quality flag: %w", err))
		}
		o.publishFlags(flag)
	}

	next := *cur
	next.State = StateQuestion
	o.audit(ctx, cur.CandidateID, domain.AuditSelfiePassed, map[string]any{
		"file_id":   best.FileID,
		"file_size": best.FileSize,
	})
	return o.advance(ctx, ev.ChatID, &next)
}

func (o *Orchestrator) voice(ctx context.Context, ev Event, cur *Session) (*Session, error) {
	if cur == nil || cur.State != StateQuestion || ev.Voice == nil {
		return cur, nil
	}
	if cur.Step >= len(o.questions) {
		return o.advance(ctx, ev.ChatID, cur)
	}

	seconds := int(ev.Voice.Duration / time.Second)
	var flags []*domain.Flag
	if ev.Voice.Duration < MinVoiceDuration {
		flags = append(flags, &domain.Flag{
			CandidateID: cur.CandidateID,
			Code:        domain.FlagTooShortVoice,
			Severity:    domain.SeverityAdvisory,
			Details:     map[string]any{"duration": seconds, "question_index": cur.Step},
		})
	}

	answer := &domain.Answer{
		CandidateID:   cur.CandidateID,
		QuestionIndex: cur.Step,
		Kind:          domain.AnswerKindVoice,
		Text:          domain.VoicePlaceholder,
		Meta:          domain.AnswerMeta{Type: domain.AnswerKindVoice, DurationSec: seconds},
	}
	if err := o.repo.SubmitAnswer(ctx, answer, flags); err != nil {
		return cur, o.abort(ctx, ev.ChatID, fmt.Errorf("submit voice answer: %w", err))
	}
	o.publishAnswer(answer)
	o.publishFlags(flags...)

	next := *cur
	next.Step++
	return o.advance(ctx, ev.ChatID, &next)
}

func (o *Orchestrator) text(ctx context.Context, ev Event, cur *Session) (*Session, error) {
	if cur == nil || cur.State != StateQuestion || strings.TrimSpace(ev.Text) == "" {
		return cur, nil
	}
	if cur.Step >= len(o.questions) {
		return o.advance(ctx, ev.ChatID, cur)
	}
	now := o.now()

	// Own answers are excluded so duplicates are only detected across candidates.
	sample, err := o.repo.SampleRecentAnswers(ctx, o.engine.SampleSize(), cur.CandidateID)
	if err != nil {
		return cur, o.abort(ctx, ev.ChatID, fmt.Errorf("sample answers: %w", err))
	}
	res := o.engine.Evaluate(cur.LastPromptAt, now, ev.Text, sample)

	var flags []*domain.Flag
	if res.Duplicate.Hit {
		flags = append(flags, &domain.Flag{
			CandidateID: cur.CandidateID,
			Code:        domain.FlagDuplicateAnswer,
			Severity:    domain.SeveritySerious,
			Details: map[string]any{
				"matched_candidate_id": res.Duplicate.CandidateID,
				"similarity":           res.Duplicate.Score,
				"question_index":       cur.Step,
			},
		})
	}

	answer := &domain.Answer{
		CandidateID:   cur.CandidateID,
		QuestionIndex: cur.Step,
		Kind:          domain.AnswerKindText,
		Text:          ev.Text,
		Meta: domain.AnswerMeta{
			Type:      domain.AnswerKindText,
			LatencyMS: res.Elapsed.Milliseconds(),
			Signals:   res.Labels(),
		},
		CreatedAt: now,
	}
	if err := o.repo.SubmitAnswer(ctx, answer, flags); err != nil {
		return cur, o.abort(ctx, ev.ChatID, fmt.Errorf("submit text answer: %w", err))
	}
	o.publishAnswer(answer)
	o.publishFlags(flags...)

	if len(res.Signals) >= warningSignals {
		o.logger.Info("integrity warning sent",
			"chat_id", ev.ChatID,
			"candidate_id", cur.CandidateID,
			"question_index", cur.Step,
			"signals", res.Labels(),
		)
		o.send(ctx, ev.ChatID, o.messages.IntegrityWarning)
	}

	next := *cur
	next.Step++
	return o.advance(ctx, ev.ChatID, &next)
}

// advance prompts the question at sess.Step or completes the interview.
// The answer that led here is already persisted and is never rolled back. A
// failed finalize keeps sess on the completed step and returns a committedError.
func (o *Orchestrator) advance(ctx context.Context, chatID int64, sess *Session) (*Session, error) {
	if sess.Step >= len(o.questions) {
		if err := o.repo.FinalizeInterview(ctx, sess.CandidateID); err != nil {
			err = o.abort(ctx, chatID, fmt.Errorf("finalize interview: %w", err))
			return sess, &committedError{err: err}
		}
		o.publish(domain.ChangeInterviewFinalized, sess.CandidateID, map[string]any{"answers": sess.Step})
		o.send(ctx, chatID, o.messages.Completed)
		o.logger.Info("interview completed", "chat_id", chatID, "candidate_id", sess.CandidateID)
		return nil, nil
	}

	prompt := fmt.Sprintf(o.messages.QuestionFormat, sess.Step+1, len(o.questions), html.EscapeString(o.questions[sess.Step]))
	o.send(ctx, chatID, prompt)
	sess.LastPromptAt = o.now()
	o.audit(ctx, sess.CandidateID, domain.AuditQuestionSent, map[string]any{"question_index": sess.Step})
	return sess, nil
}

// abort tells the candidate to retry and returns err for the caller to log.
func (o *Orchestrator) abort(ctx context.Context, chatID int64, err error) error {
	o.logger.Error("interview transition failed", "chat_id", chatID, "error", err)
	o.send(ctx, chatID, o.messages.TryAgain)
	return err
}

func (o *Orchestrator) send(ctx context.Context, chatID int64, text string) {
	if err := o.sender.SendMessage(ctx, chatID, text, SendOptions{ParseMode: ParseModeHTML}); err != nil {
		o.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (o *Orchestrator) audit(ctx context.Context, candidateID int64, event string, payload map[string]any) {
	err := o.repo.LogAuditEvent(ctx, &domain.AuditEvent{
		CandidateID: candidateID,
		Event:       event,
		Payload:     payload,
	})
	if err != nil {
		o.logger.Warn("failed to log audit event", "candidate_id", candidateID, "event", event, "error", err)
	}
}

func (o *Orchestrator) publish(kind domain.ChangeKind, candidateID int64, data map[string]any) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(domain.Change{Kind: kind, CandidateID: candidateID, Data: data, At: o.now()})
}

func (o *Orchestrator) publishAnswer(answer *domain.Answer) {
	o.publish(domain.ChangeAnswerStored, answer.CandidateID, map[string]any{
		"question_index": answer.QuestionIndex,
		"kind":           string(answer.Kind),
		"signals":        answer.Meta.Signals,
	})
}

func (o *Orchestrator) publishFlags(flags ...*domain.Flag) {
	for _, f := range flags {
		o.publish(domain.ChangeFlagRecorded, f.CandidateID, map[string]any{
			"code":     string(f.Code),
			"severity": int(f.Severity),
			"details":  f.Details,
		})
	}
}
