package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ashureev/screening-bot/internal/admin"
	"github.com/ashureev/screening-bot/internal/domain"
	"github.com/ashureev/screening-bot/internal/interview"
	"github.com/ashureev/screening-bot/internal/report"
)

var errAborted = errors.New("aborted")

// confirm asks before destructive operations. Tests replace it.
var confirm = func(label string) error {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	if _, err := p.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return errAborted
		}
		return err
	}
	return nil
}

func (c *cli) candidatesCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List candidates with answer and flag counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summaries, err := c.service.Summaries(cmd.Context(), pending)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			return writeSummaries(cmd.OutOrStdout(), summaries)
		},
	}
	cmd.Flags().BoolVarP(&pending, "pending", "p", false, "only candidates awaiting approval")
	return cmd
}

func (c *cli) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <telegram-id>",
		Short: "Allow a candidate to start the interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := admin.ParseTelegramID(args[0])
			if err != nil {
				return err
			}
			cand, err := c.service.Approve(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved candidate #%d (telegram %d)\n", cand.ID, cand.Identity.TelegramID)
			return nil
		},
	}
}

func (c *cli) revokeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "revoke <telegram-id>",
		Short: "Withdraw a candidate's approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := admin.ParseTelegramID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				if err := confirm(fmt.Sprintf("Revoke approval for telegram %d", id)); err != nil {
					return err
				}
			}
			cand, err := c.service.Revoke(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked candidate #%d (telegram %d)\n", cand.ID, cand.Identity.TelegramID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var questionsFile string
	cmd := &cobra.Command{
		Use:   "report <telegram-id>",
		Short: "Print a candidate's answers, flags and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := admin.ParseTelegramID(args[0])
			if err != nil {
				return err
			}
			rep, err := c.service.Report(cmd.Context(), id)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), rep)
			}

			questions := interview.DefaultQuestions
			if questionsFile != "" {
				if questions, err = interview.LoadQuestions(questionsFile); err != nil {
					return err
				}
			}
			_, err = io.WriteString(cmd.OutOrStdout(), report.Text(rep, questions))
			return err
		},
	}
	cmd.Flags().StringVar(&questionsFile, "questions", "", "questions file used to label answers")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the candidate CSV export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := c.v.GetString("export-path")
			if out == "" || out == "-" {
				return c.service.Export(cmd.Context(), cmd.OutOrStdout())
			}
			n, err := c.service.ExportFile(cmd.Context(), out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d candidates to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", "-", "output file, - for stdout")
	_ = c.v.BindPFlag("export-path", cmd.Flags().Lookup("out"))
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSummaries(w io.Writer, summaries []domain.CandidateSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTELEGRAM\tNAME\tAPPROVED\tCOMPLETED\tANSWERS\tFLAGS\tSEVERITY")
	for _, s := range summaries {
		c := s.Candidate
		completed := "-"
		if c.FinalizedAt != nil {
			completed = c.FinalizedAt.UTC().Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%t\t%s\t%d\t%d\t%s\n",
			c.ID, c.Identity.TelegramID, dash(c.Identity.DisplayName()), c.Approved,
			completed, s.AnswerCount, s.FlagCount, s.MaxSeverity)
	}
	return tw.Flush()
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
