package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and backend health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("daemon unreachable: %w", err)
			}
			health, healthErr := client.Health(cmd.Context())

			if jsonOut {
				return writeJSON(cmd, map[string]any{"daemon": status, "health": health})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))

			runningKind := statusError
			runningMsg := "stopped"
			if status.Running {
				runningKind = statusOK
				runningMsg = fmt.Sprintf("pid %d", status.PID)
			}
			fmt.Fprintln(out, renderStatusLine("Running", runningKind, runningMsg, colorize))
			fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
			fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))

			visionKind := statusOK
			visionMsg := "reachable"
			switch {
			case healthErr != nil:
				visionKind = statusError
				visionMsg = healthErr.Error()
			case health.Status != "ok":
				visionKind = statusWarn
				visionMsg = health.Vision
			}
			fmt.Fprintln(out, renderStatusLine("Vision backend", visionKind, visionMsg, colorize))

			if len(status.Dependencies) > 0 {
				fmt.Fprintln(out, renderSectionHeader("Tools", colorize))
				for _, dep := range status.Dependencies {
					kind := statusOK
					message := dep.Command
					if !dep.Available {
						kind = statusError
						if dep.Optional {
							kind = statusWarn
						}
						message = dep.Detail
					}
					fmt.Fprintln(out, renderStatusLine(dep.Name, kind, message, colorize))
				}
			}

			if len(status.Jobs) > 0 {
				fmt.Fprintln(out, renderSectionHeader("Jobs", colorize))
				kinds := make([]string, 0, len(status.Jobs))
				for kind := range status.Jobs {
					kinds = append(kinds, kind)
				}
				sort.Strings(kinds)
				for _, kind := range kinds {
					label := strings.TrimSpace(kind)
					fmt.Fprintln(out, renderStatusLine(label, statusInfo, fmt.Sprintf("%d queued", status.Jobs[kind]), colorize))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
