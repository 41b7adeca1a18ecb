package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/screening-bot/internal/domain"
)

// CSVHeader is the column order of the candidate export.
var CSVHeader = []string{
	"candidate_id",
	"telegram_id",
	"username",
	"name",
	"approved",
	"created_at",
	"finalized_at",
	"answers",
	"flags",
	"max_severity",
	"flag_codes",
}

// WriteCSV writes one row per candidate summary.
func WriteCSV(w io.Writer, summaries []domain.CandidateSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, s := range summaries {
		c := s.Candidate
		finalized := ""
		if c.FinalizedAt != nil {
			finalized = c.FinalizedAt.UTC().Format(time.RFC3339)
		}
		severity := ""
		if s.MaxSeverity > 0 {
			severity = s.MaxSeverity.String()
		}
		row := []string{
			strconv.FormatInt(c.ID, 10),
			strconv.FormatInt(c.Identity.TelegramID, 10),
			c.Identity.Username,
			c.Identity.DisplayName(),
			strconv.FormatBool(c.Approved),
			c.CreatedAt.UTC().Format(time.RFC3339),
			finalized,
			strconv.Itoa(s.AnswerCount),
			strconv.Itoa(s.FlagCount),
			severity,
			strings.Join(s.FlagCodes, ";"),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteCSVFile replaces path with a fresh export. Readers never see a
// partially written file.
func WriteCSVFile(path string, summaries []domain.CandidateSummary) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*.csv")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, summaries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}
