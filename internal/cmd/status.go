package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgehq/forge/internal/logging"
	"github.com/forgehq/forge/internal/taskgraph"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's task progress",
	Long: `Status prints the session's lifecycle state, per-task status, and
aggregate progress.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	sess, err := rt.sessions.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	tasks := taskgraph.NewManager(rt.sessions, logging.NopLogger(), rt.cfg.Task.MaxAttempts)
	progress, err := tasks.GetProgress(cmd.Context(), sess.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Session:   %s\n", sess.ID)
	fmt.Printf("User:      %s\n", sess.UserID)
	if sess.ProjectID != "" {
		fmt.Printf("Project:   %s\n", sess.ProjectID)
	}
	fmt.Printf("Status:    %s\n", sess.Status)
	fmt.Printf("Messages:  %d\n", sess.MessageCount)
	fmt.Printf("Expires:   %s\n", sess.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Println()

	if len(sess.Tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	fmt.Printf("Tasks (%d%% complete, %d/%d):\n", progress.PercentComplete, progress.Completed, progress.Total)
	for i := range sess.Tasks {
		t := &sess.Tasks[i]
		marker := " "
		switch t.Status {
		case "completed":
			marker = "✓"
		case "failed":
			marker = "✗"
		case "in-progress":
			marker = "→"
		}
		fmt.Printf("  %s [%s] %s (%s", marker, t.Phase, t.Description, t.Status)
		if t.Attempts > 0 {
			fmt.Printf(", attempt %d/%d", t.Attempts, t.MaxAttempts)
		}
		fmt.Println(")")
		if t.ErrorMessage != "" {
			fmt.Printf("      error: %s\n", t.ErrorMessage)
		}
	}
	return nil
}
