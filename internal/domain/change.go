package domain

import "time"

// ChangeKind names a state change that downstream projections react to.
type ChangeKind string

const (
	ChangeAnswerStored       ChangeKind = "answer_stored"
	ChangeFlagRecorded       ChangeKind = "flag_recorded"
	ChangeInterviewFinalized ChangeKind = "interview_finalized"
	ChangeCandidateApproved  ChangeKind = "candidate_approved"
	ChangeCandidateRevoked   ChangeKind = "candidate_revoked"
)

// Change is published after a mutation has been persisted.
type Change struct {
	ID          string         `json:"id"`
	Kind        ChangeKind     `json:"kind"`
	CandidateID int64          `json:"candidate_id"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}
