package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"partbank/internal/api"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage upload batches",
	}

	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	batchCmd.AddCommand(newBatchUploadCommand(ctx))
	batchCmd.AddCommand(newBatchFinalizeCommand(ctx))
	batchCmd.AddCommand(newBatchCancelCommand(ctx))

	return batchCmd
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var userRef string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new upload batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			batch, err := client.CreateBatch(cmd.Context(), userRef)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, batch)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created batch %d for %s\n", batch.ID, batch.UserRef)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userRef, "user", "u", "", "User reference the batch belongs to")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			batches, err := client.ListBatches(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, batches)
			}
			if len(batches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No batches")
				return nil
			}
			rows := make([][]string, 0, len(batches))
			for _, batch := range batches {
				rows = append(rows, []string{
					strconv.FormatInt(batch.ID, 10),
					batch.UserRef,
					batch.Status,
					fmt.Sprintf("%d/%d", batch.ProcessedFiles, batch.TotalFiles),
					strconv.Itoa(batch.FailedFiles),
					batch.CreatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "User", "Status", "Processed", "Failed", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&statuses, "status", nil, "Filter by batch status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show BATCH_ID",
		Short: "Show one batch with its items and proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			detail, err := client.GetBatch(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, detail)
			}
			printBatchDetail(cmd, detail)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func printBatchDetail(cmd *cobra.Command, detail api.BatchDetail) {
	out := cmd.OutOrStdout()
	batch := detail.Batch
	fmt.Fprintf(out, "Batch %d (%s) for %s\n", batch.ID, batch.Status, batch.UserRef)
	fmt.Fprintf(out, "Files: %d total, %d processed, %d succeeded, %d failed\n",
		batch.TotalFiles, batch.ProcessedFiles, batch.SuccessFiles, batch.FailedFiles)
	if batch.ErrorSummary != "" {
		fmt.Fprintf(out, "Errors: %s\n", batch.ErrorSummary)
	}

	rows := make([][]string, 0, len(detail.Items))
	for _, entry := range detail.Items {
		item := entry.Item
		title := ""
		review := ""
		if entry.Proposal != nil {
			title = entry.Proposal.Title
			if entry.Proposal.IsApproved {
				review = "approved by " + entry.Proposal.ApprovedBy
			} else {
				review = fmt.Sprintf("proposal %d pending", entry.Proposal.ID)
			}
		}
		note := item.ErrorMessage
		if note == "" {
			note = review
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.FileName,
			item.Status,
			title,
			note,
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(
			[]string{"Item", "File", "Status", "Title", "Notes"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
		))
	}
}

func newBatchUploadCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload BATCH_ID FILE...",
		Short: "Upload PDF files into a batch",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failures int
			for _, path := range args[1:] {
				if err := uploadOne(cmd, client, batchID, path); err != nil {
					failures++
					fmt.Fprintf(out, "%s: %v\n", filepath.Base(path), err)
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d uploads failed", failures, len(args)-1)
			}
			return nil
		},
	}
	return cmd
}

func uploadOne(cmd *cobra.Command, client *api.Client, batchID int64, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	item, err := client.UploadItem(cmd.Context(), batchID, filepath.Base(path), file)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as item %d\n", item.FileName, item.ID)
	return nil
}

func newBatchFinalizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize BATCH_ID",
		Short: "Close a batch for uploads and start processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			batch, err := client.FinalizeBatch(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %d is %s with %d files\n", batch.ID, batch.Status, batch.TotalFiles)
			return nil
		},
	}
}

func newBatchCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel BATCH_ID",
		Short: "Cancel a batch and everything still open inside it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			batch, err := client.CancelBatch(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %d cancelled\n", batch.ID)
			return nil
		},
	}
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return id, nil
}
