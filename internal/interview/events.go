// Package interview runs the per-candidate screening interview.
package interview

import (
	"time"

	"github.com/ashureev/screening-bot/internal/domain"
)

// EventKind tags an inbound transport event.
type EventKind string

const (
	EventCommand EventKind = "command"
	EventText    EventKind = "text"
	EventPhoto   EventKind = "photo"
	EventVoice   EventKind = "voice"
	EventVideo   EventKind = "video"
)

// CommandStart begins the interview.
const CommandStart = "start"

// PhotoSize is one resolution variant of an uploaded photo.
type PhotoSize struct {
	FileID   string
	Width    int
	Height   int
	FileSize int
}

// Voice describes a voice message.
type Voice struct {
	FileID   string
	Duration time.Duration
}

// Event is an inbound message from the chat transport.
type Event struct {
	Kind    EventKind
	ChatID  int64
	From    domain.Identity
	Command string
	Args    []string
	Text    string
	Caption string
	Photos  []PhotoSize
	Voice   *Voice
}

// SendOptions carries formatting hints for outbound messages.
type SendOptions struct {
	ParseMode             string
	DisableWebPagePreview bool
}

// ParseModeHTML selects HTML formatting for outbound messages.
const ParseModeHTML = "HTML"

// largestPhoto returns the highest resolution variant. Ties go to the larger file.
func largestPhoto(photos []PhotoSize) PhotoSize {
	var best PhotoSize
	for i, p := range photos {
		area, bestArea := p.Width*p.Height, best.Width*best.Height
		if i == 0 || area > bestArea || (area == bestArea && p.FileSize > best.FileSize) {
			best = p
		}
	}
	return best
}
