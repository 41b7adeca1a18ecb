package interview

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadQuestions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.txt")
	content := "# screening round one\n\nWhat is a goroutine?\n  How do channels close?  \n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	questions, err := LoadQuestions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"What is a goroutine?", "How do channels close?"}, questions)
}

func TestLoadQuestionsErrors(t *testing.T) {
	_, err := LoadQuestions(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("# only comments\n"), 0o600))
	_, err = LoadQuestions(path)
	assert.ErrorContains(t, err, "no questions")
}

func TestRandomCodes(t *testing.T) {
	codes := RandomCodes(nil)
	pattern := regexp.MustCompile(`^\d{4}$`)
	for range 50 {
		code, err := codes()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestRandomCodesFromReader(t *testing.T) {
	// Zero bytes always decode to zero, which pads to four digits.
	codes := RandomCodes(bytes.NewReader(make([]byte, 64)))
	code, err := codes()
	require.NoError(t, err)
	assert.Equal(t, "0000", code)

	_, err = RandomCodes(bytes.NewReader(nil))()
	assert.Error(t, err)
}
