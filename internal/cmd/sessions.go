package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/pairpad/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored sessions",
	Long: `Commands for listing, inspecting, expiring, and deleting the sessions
held by the configured store. Only a file store outlives the process, so
these commands are mostly useful with store.kind set to file.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a stored session's participants, files, and conflicts",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "End stored sessions idle for longer than their timeout",
	RunE:  runSessionsExpire,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsExpireCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// withRuntime loads configuration, builds a runtime, and runs fn with it.
func withRuntime(cmd *cobra.Command, fn func(*runtime, *printer) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cmd.Context(), cfg, workDir())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt, newPrinter(cmd.OutOrStdout()))
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(rt *runtime, p *printer) error {
		infos, err := rt.store.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			p.line("No sessions found.")
			return nil
		}

		p.header("%-36s  %-10s  %-7s  %5s  %5s  %9s  %s", "ID", "OWNER", "STATUS", "USERS", "FILES", "CONFLICTS", "LAST ACTIVITY")
		for _, info := range infos {
			status := string(info.Status)
			switch info.Status {
			case session.StatusActive:
				status = p.ok(fmt.Sprintf("%-7s", status))
			case session.StatusEnded:
				status = p.muted(fmt.Sprintf("%-7s", status))
			default:
				status = fmt.Sprintf("%-7s", status)
			}
			p.line("%-36s  %-10s  %s  %5d  %5d  %9d  %s",
				info.ID, info.Owner, status, info.Participants, info.Files, info.Conflicts,
				info.LastActivity.Local().Format(time.DateTime))
		}
		return nil
	})
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(rt *runtime, p *printer) error {
		snap, err := rt.engine.LoadSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		p.header("Session %s", snap.ID)
		p.line("  Owner:         %s", snap.Owner)
		p.line("  Status:        %s", snap.Status)
		p.line("  Policy:        %s", snap.Settings.ConflictResolution)
		p.line("  Created:       %s", snap.CreatedAt.Local().Format(time.DateTime))
		p.line("  Last activity: %s", snap.LastActivity.Local().Format(time.DateTime))

		p.header("Participants")
		for _, part := range snap.Participants {
			var perms []string
			for _, perm := range session.AllPermissions() {
				if snap.Has(part.ID, perm) {
					perms = append(perms, string(perm))
				}
			}
			p.line("  %-12s %-8s %s", part.ID, part.Status, p.muted(strings.Join(perms, ",")))
		}

		if len(snap.Files) > 0 {
			p.header("Files")
			for _, f := range snap.Files {
				lock := ""
				if f.LockedBy != "" {
					lock = p.muted(" locked by " + f.LockedBy)
				}
				p.line("  %-30s v%-4d %s%s", f.Path, f.Version, f.LastModifiedBy, lock)
			}
		}

		if len(snap.Conflicts) > 0 {
			p.header("Conflicts")
			for _, c := range snap.Conflicts {
				status := p.fail(string(c.Status))
				if c.Terminal() {
					status = p.ok(string(c.Status))
				}
				p.line("  %s %-16s %-10s %s", c.ID, c.Kind, c.SubmittedBy, status)
			}
		}
		return nil
	})
}

func runSessionsExpire(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(rt *runtime, p *printer) error {
		ctx := cmd.Context()
		infos, err := rt.store.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			if info.Status == session.StatusEnded {
				continue
			}
			if _, err := rt.engine.LoadSession(ctx, info.ID); err != nil {
				rt.logger.Warn("skipping unreadable session", "session_id", info.ID, "error", err.Error())
			}
		}

		expired := rt.engine.ExpireIdle(ctx, time.Now())
		for _, id := range expired {
			// Sessions with auto-save off are not persisted by the engine.
			if err := rt.engine.Save(ctx, id); err != nil {
				return err
			}
		}

		if len(expired) == 0 {
			p.line("No idle sessions.")
			return nil
		}
		for _, id := range expired {
			p.line("Ended %s", id)
		}
		return nil
	})
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(rt *runtime, p *printer) error {
		if err := rt.store.DeleteSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		p.line("Deleted session %s", args[0])
		return nil
	})
}
