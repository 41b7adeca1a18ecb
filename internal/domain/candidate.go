// Package domain contains core domain types for the screening bot.
package domain

import (
	"time"
)

// Identity is the sender identity known to the chat transport.
type Identity struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
}

// DisplayName returns a human readable name for reports and logs.
func (i Identity) DisplayName() string {
	name := i.FirstName
	if i.LastName != "" {
		if name != "" {
			name += " "
		}
		name += i.LastName
	}
	if name == "" && i.Username != "" {
		name = "@" + i.Username
	}
	return name
}

// Candidate represents a person being screened.
type Candidate struct {
	ID          int64      `json:"id"`
	Identity    Identity   `json:"identity"`
	Approved    bool       `json:"approved"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// IsFinalized returns true once the candidate completed the question loop.
func (c *Candidate) IsFinalized() bool {
	return c.FinalizedAt != nil
}

// CandidateSummary is the per-candidate aggregate used by reports and exports.
type CandidateSummary struct {
	Candidate   Candidate `json:"candidate"`
	AnswerCount int       `json:"answer_count"`
	FlagCount   int       `json:"flag_count"`
	MaxSeverity Severity  `json:"max_severity"`
	FlagCodes   []string  `json:"flag_codes,omitempty"`
}
