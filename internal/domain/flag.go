package domain

import "time"

// FlagCode identifies the integrity event recorded in a Flag.
type FlagCode string

// Stable flag codes. They are persisted and exported, never rename them.
const (
	FlagSelfieCodeMismatch FlagCode = "selfie_code_mismatch"
	FlagLowQualitySelfie   FlagCode = "low_quality_selfie"
	FlagTooShortVoice      FlagCode = "too_short_voice"
	FlagTooFast            FlagCode = "too_fast"
	FlagCopyPasteLikely    FlagCode = "copy_paste_likely"
	FlagDuplicateAnswer    FlagCode = "duplicate_answer"
)

// Severity ranks a flag.
type Severity int

const (
	SeverityAdvisory Severity = 1
	SeveritySerious  Severity = 2
)

// String returns the lowercase severity label.
func (s Severity) String() string {
	switch s {
	case SeverityAdvisory:
		return "advisory"
	case SeveritySerious:
		return "serious"
	default:
		return "none"
	}
}

// Flag is a persisted integrity record.
type Flag struct {
	ID          string         `json:"id"`
	CandidateID int64          `json:"candidate_id"`
	Code        FlagCode       `json:"code"`
	Severity    Severity       `json:"severity"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
