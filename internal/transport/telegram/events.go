package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ashureev/screening-bot/internal/domain"
	"github.com/ashureev/screening-bot/internal/interview"
)

// maxUpdateBytes bounds a webhook body.
const maxUpdateBytes = 1 << 20

// DecodeUpdate reads one update from a webhook body.
func DecodeUpdate(r io.Reader) (Update, error) {
	var u Update
	if err := json.NewDecoder(io.LimitReader(r, maxUpdateBytes)).Decode(&u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

// ToEvent converts an update into an interview event. Updates without a
// message, or sent by bots, report false.
func ToEvent(u Update) (interview.Event, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot {
		return interview.Event{}, false
	}

	ev := interview.Event{
		ChatID: m.Chat.ID,
		From: domain.Identity{
			TelegramID: m.From.ID,
			Username:   m.From.Username,
			FirstName:  m.From.FirstName,
			LastName:   m.From.LastName,
		},
	}

	switch {
	case len(m.Photo) > 0:
		ev.Kind = interview.EventPhoto
		ev.Caption = m.Caption
		ev.Photos = make([]interview.PhotoSize, 0, len(m.Photo))
		for _, p := range m.Photo {
			ev.Photos = append(ev.Photos, interview.PhotoSize{
				FileID:   p.FileID,
				Width:    p.Width,
				Height:   p.Height,
				FileSize: p.FileSize,
			})
		}
	case m.Voice != nil:
		ev.Kind = interview.EventVoice
		ev.Voice = &interview.Voice{
			FileID:   m.Voice.FileID,
			Duration: time.Duration(m.Voice.Duration) * time.Second,
		}
	case m.Video != nil || m.VideoNote != nil:
		ev.Kind = interview.EventVideo
	case isCommand(m):
		ev.Kind = interview.EventCommand
		ev.Command, ev.Args = parseCommand(m.Text)
	case m.Text != "":
		ev.Kind = interview.EventText
		ev.Text = m.Text
	default:
		return interview.Event{}, false
	}
	return ev, true
}

func isCommand(m *Message) bool {
	for _, e := range m.Entities {
		if e.Type == "bot_command" && e.Offset == 0 {
			return true
		}
	}
	return len(m.Entities) == 0 && strings.HasPrefix(m.Text, "/")
}

// parseCommand splits "/name@bot a b" into "name" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}
