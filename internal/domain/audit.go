package domain

import "time"

// Audit event names recorded by the orchestrator.
const (
	AuditChallengeIssued = "challenge_issued"
	AuditQuestionSent    = "question_sent"
	AuditSelfiePassed    = "selfie_passed"
)

// AuditEvent is an append-only lifecycle record kept for forensic replay.
type AuditEvent struct {
	ID          string         `json:"id"`
	CandidateID int64          `json:"candidate_id"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
