package interview

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Messages holds every text the bot sends to a candidate.
// ChallengeFormat takes the code; QuestionFormat takes the question number,
// the total and the question text.
type Messages struct {
	Welcome          string
	ChallengeFormat  string
	Instructions     string
	NotApproved      string
	AlreadyCompleted string
	CodeMismatch     string
	IntegrityWarning string
	QuestionFormat   string
	Completed        string
	TryAgain         string
}

// DefaultMessages returns the built-in English texts.
func DefaultMessages() Messages {
	return Messages{
		Welcome: "Welcome to the screening interview.",
		ChallengeFormat: "First, please confirm your identity: send a selfie with the code " +
			"<b>%s</b> written in the photo caption.",
		Instructions: "After the selfie you will get the questions one at a time. " +
			"Answer each one in your own words with a text or a voice message.",
		NotApproved:      "Sorry, you are not on the list of invited candidates.",
		AlreadyCompleted: "You have already completed the interview. Thank you!",
		CodeMismatch:     "The caption does not contain the code. Please send the selfie again with the code in the caption.",
		IntegrityWarning: "Please answer in your own words and take the time you need.",
		QuestionFormat:   "<b>Question %d of %d</b>\n\n%s",
		Completed:        "That was the last question. Thank you, the interview is complete!",
		TryAgain:         "Something went wrong on our side. Please send that again.",
	}
}

// DefaultQuestions is the question sequence used when no file is configured.
var DefaultQuestions = []string{
	"Tell us briefly about yourself and your current role.",
	"Describe a recent project you are proud of and what your part in it was.",
	"How do you approach debugging a problem you have never seen before?",
	"Tell us about a disagreement with a colleague and how it was resolved.",
	"Why are you interested in this position?",
}

// LoadQuestions reads one question per line. Blank lines and lines starting
// with '#' are skipped.
func LoadQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open questions file: %w", err)
	}
	defer f.Close()

	var questions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("questions file %s has no questions", path)
	}
	return questions, nil
}
