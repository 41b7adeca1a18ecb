package domain

import "time"

// AnswerKind distinguishes text answers from voice placeholders.
type AnswerKind string

const (
	AnswerKindText  AnswerKind = "text"
	AnswerKindVoice AnswerKind = "voice"
)

// VoicePlaceholder is stored as the answer text for voice messages.
const VoicePlaceholder = "[voice message]"

// AnswerMeta carries the measurements taken for one answer.
type AnswerMeta struct {
	Type        AnswerKind `json:"type"`
	LatencyMS   int64      `json:"latency_ms,omitempty"`
	Signals     []string   `json:"signals,omitempty"`
	DurationSec int        `json:"duration,omitempty"`
}

// Answer is one persisted response to a question.
type Answer struct {
	ID            int64      `json:"id"`
	CandidateID   int64      `json:"candidate_id"`
	QuestionIndex int        `json:"question_index"`
	Kind          AnswerKind `json:"kind"`
	Text          string     `json:"text"`
	Meta          AnswerMeta `json:"meta"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SampledAnswer is the projection of an answer used for duplicate detection.
type SampledAnswer struct {
	CandidateID int64
	Text        string
}
