package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"partbank/internal/api"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var approvedBy string
	var title, composer, arranger, publisher, difficulty, genre, style, notes string
	var durationSeconds int

	cmd := &cobra.Command{
		Use:   "approve PROPOSAL_ID",
		Short: "Approve a proposal, optionally correcting its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposalID, err := parseID(args[0], "proposal id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			// Only flags the reviewer actually set become corrections.
			corrections := &api.Corrections{}
			changed := false
			setString := func(name string, target **string, value string) {
				if cmd.Flags().Changed(name) {
					v := value
					*target = &v
					changed = true
				}
			}
			setString("title", &corrections.Title, title)
			setString("composer", &corrections.Composer, composer)
			setString("arranger", &corrections.Arranger, arranger)
			setString("publisher", &corrections.Publisher, publisher)
			setString("difficulty", &corrections.Difficulty, difficulty)
			setString("genre", &corrections.Genre, genre)
			setString("style", &corrections.Style, style)
			setString("notes", &corrections.Notes, notes)
			if cmd.Flags().Changed("duration") {
				corrections.DurationSeconds = &durationSeconds
				changed = true
			}
			if !changed {
				corrections = nil
			}

			result, err := client.ApproveProposal(cmd.Context(), proposalID, approvedBy, corrections)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Approved proposal %d (%s)\n", result.Proposal.ID, result.Proposal.Title)
			if result.AllApproved {
				fmt.Fprintln(out, "All proposals approved; ingestion queued")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&approvedBy, "by", "", "Reviewer recording the approval")
	cmd.Flags().StringVar(&title, "title", "", "Correct the piece title")
	cmd.Flags().StringVar(&composer, "composer", "", "Correct the composer")
	cmd.Flags().StringVar(&arranger, "arranger", "", "Correct the arranger")
	cmd.Flags().StringVar(&publisher, "publisher", "", "Correct the publisher")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "Correct the difficulty grade")
	cmd.Flags().StringVar(&genre, "genre", "", "Correct the genre")
	cmd.Flags().StringVar(&style, "style", "", "Correct the style")
	cmd.Flags().StringVar(&notes, "notes", "", "Correct the notes")
	cmd.Flags().IntVar(&durationSeconds, "duration", 0, "Correct the duration in seconds")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
