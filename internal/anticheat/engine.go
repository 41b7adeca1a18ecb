package anticheat

import (
	"time"
	"unicode/utf8"

	"github.com/ashureev/screening-bot/internal/domain"
)

// Signal is one suspicious characteristic of an answer.
type Signal int

const (
	SignalTooFast Signal = iota
	SignalCopyPasteLikely
	SignalDuplicateAnswer
)

// String returns the stable label of the signal.
func (s Signal) String() string {
	return string(s.FlagCode())
}

// FlagCode maps the signal onto the persisted flag vocabulary.
func (s Signal) FlagCode() domain.FlagCode {
	switch s {
	case SignalTooFast:
		return domain.FlagTooFast
	case SignalCopyPasteLikely:
		return domain.FlagCopyPasteLikely
	case SignalDuplicateAnswer:
		return domain.FlagDuplicateAnswer
	}
	panic("anticheat: unknown signal")
}

// Policy holds the thresholds used by the engine.
type Policy struct {
	TooFastElapsed     time.Duration
	LongAnswerChars    int
	LongAnswerElapsed  time.Duration
	PasteChars         int
	PasteCharsElapsed  time.Duration
	PasteWords         int
	PasteWordsElapsed  time.Duration
	DuplicateThreshold float64
	SampleSize         int
}

// DefaultPolicy returns the fixed screening policy.
func DefaultPolicy() Policy {
	return Policy{
		TooFastElapsed:     1500 * time.Millisecond,
		LongAnswerChars:    180,
		LongAnswerElapsed:  5000 * time.Millisecond,
		PasteChars:         250,
		PasteCharsElapsed:  4000 * time.Millisecond,
		PasteWords:         60,
		PasteWordsElapsed:  5000 * time.Millisecond,
		DuplicateThreshold: 0.9,
		SampleSize:         200,
	}
}

// DuplicateMatch is the best scoring answer from the sampled history.
type DuplicateMatch struct {
	CandidateID int64
	Score       float64
	Hit         bool
}

// Result is the outcome of scoring one answer.
type Result struct {
	Elapsed   time.Duration
	Signals   []Signal
	Duplicate DuplicateMatch
}

// Labels returns the signal labels in detection order.
func (r Result) Labels() []string {
	labels := make([]string, 0, len(r.Signals))
	for _, s := range r.Signals {
		labels = append(labels, s.String())
	}
	return labels
}

// Has reports whether the signal was detected.
func (r Result) Has(s Signal) bool {
	for _, got := range r.Signals {
		if got == s {
			return true
		}
	}
	return false
}

// Engine applies the timing heuristics and the similarity check.
type Engine struct {
	policy Policy
}

// NewEngine creates an engine with the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// SampleSize is the number of recent answers the caller should fetch.
func (e *Engine) SampleSize() int {
	return e.policy.SampleSize
}

// Evaluate scores an answer sent at now for a prompt sent at promptSentAt.
// sample is the recent answer history, newest first.
func (e *Engine) Evaluate(promptSentAt, now time.Time, text string, sample []domain.SampledAnswer) Result {
	elapsed := now.Sub(promptSentAt)
	chars := utf8.RuneCountInString(text)
	words := WordCount(text)

	res := Result{Elapsed: elapsed}
	if e.TooFast(elapsed, chars) {
		res.Signals = append(res.Signals, SignalTooFast)
	}
	if e.CopyPasteLikely(elapsed, chars, words) {
		res.Signals = append(res.Signals, SignalCopyPasteLikely)
	}

	res.Duplicate = e.BestMatch(text, sample)
	if res.Duplicate.Hit {
		res.Signals = append(res.Signals, SignalDuplicateAnswer)
	}
	return res
}

// TooFast reports an answer that came too quickly, or a long answer
// composed implausibly fast.
func (e *Engine) TooFast(elapsed time.Duration, chars int) bool {
	if elapsed < e.policy.TooFastElapsed {
		return true
	}
	return chars > e.policy.LongAnswerChars && elapsed < e.policy.LongAnswerElapsed
}

// CopyPasteLikely reports a large body of text that arrived faster than it
// could be typed.
func (e *Engine) CopyPasteLikely(elapsed time.Duration, chars, words int) bool {
	if chars > e.policy.PasteChars && elapsed < e.policy.PasteCharsElapsed {
		return true
	}
	return words > e.policy.PasteWords && elapsed < e.policy.PasteWordsElapsed
}

// BestMatch finds the highest scoring answer in the sample. The first of
// several equal scores wins, which is the newest one.
func (e *Engine) BestMatch(text string, sample []domain.SampledAnswer) DuplicateMatch {
	var best DuplicateMatch
	if len(sample) == 0 {
		return best
	}

	own := tokenSet(text)
	found := false
	for _, s := range sample {
		score := overlap(own, tokenSet(s.Text))
		if !found || score > best.Score {
			best = DuplicateMatch{CandidateID: s.CandidateID, Score: score}
			found = true
		}
	}
	best.Hit = best.Score > e.policy.DuplicateThreshold
	return best
}
