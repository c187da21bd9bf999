package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newDeadLetterCommand(ctx *commandContext) *cobra.Command {
	deadLetterCmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay dead-lettered jobs",
	}

	deadLetterCmd.AddCommand(newDeadLetterListCommand(ctx))
	deadLetterCmd.AddCommand(newDeadLetterReplayCommand(ctx))

	return deadLetterCmd
}

func newDeadLetterListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			letters, err := client.ListDeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, letters)
			}
			if len(letters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
				return nil
			}
			rows := make([][]string, 0, len(letters))
			for _, letter := range letters {
				rows = append(rows, []string{
					strconv.FormatInt(letter.ID, 10),
					letter.Kind,
					strconv.Itoa(letter.Attempts),
					letter.Reason,
					letter.CreatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Kind", "Attempts", "Reason", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newDeadLetterReplayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay DEAD_LETTER_ID",
		Short: "Requeue a dead-lettered job with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "dead letter id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			replayed, err := client.ReplayDeadLetter(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed dead letter %d as %s job %d\n", id, replayed.Kind, replayed.JobID)
			return nil
		},
	}
}
