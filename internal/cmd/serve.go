package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/forgehq/forge/internal/archive"
	"github.com/forgehq/forge/internal/callctx"
	"github.com/forgehq/forge/internal/delegate"
	"github.com/forgehq/forge/internal/lock"
	"github.com/forgehq/forge/internal/orchestrator"
	"github.com/forgehq/forge/internal/stream"
	"github.com/forgehq/forge/internal/taskgraph"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator as a console service",
	Long: `Serve wires the full orchestration stack and reads user messages
from stdin, one per line. Each message runs the controller loop:
plan, create tasks, delegate in dependency order with retries, and
stream progress to stdout.

The execution capability is the external command configured as
coder.command; each task's instruction is written to its stdin.`,
	RunE: runServe,
}

var (
	serveUser    string
	serveProject string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveUser, "user", "local", "user id for the session")
	serveCmd.Flags().StringVar(&serveProject, "project", "", "project id for the session")
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()
	if rt.client == nil {
		return fmt.Errorf("serve requires the redis session driver (session.driver=redis)")
	}

	coder, err := delegate.NewCommandCoder(rt.cfg.Coder.Command)
	if err != nil {
		return err
	}

	tasks := taskgraph.NewManager(rt.sessions, rt.logger, rt.cfg.Task.MaxAttempts)
	calls := callctx.NewStore(rt.client, rt.logger, rt.cfg.CallContext.TTL())
	locks := lock.NewManager(rt.client, rt.logger,
		rt.cfg.Lock.LeaseTTL(), rt.cfg.Lock.AcquireTimeout(), rt.cfg.Lock.RetryInterval())
	executor := delegate.NewExecutor(tasks, calls, coder, rt.logger)

	var recorder archive.Recorder = archive.Nop{}
	if rt.cfg.Supabase.URL != "" {
		recorder, err = archive.New(archive.Config{URL: rt.cfg.Supabase.URL, APIKey: rt.cfg.Supabase.APIKey})
		if err != nil {
			return err
		}
	}
	defer recorder.Close()

	orch := orchestrator.New(rt.sessions, tasks, executor, locks,
		orchestrator.PhasePlanner{}, recorder, rt.logger, rt.cfg.Lock.Require)

	fmt.Println("forge ready; enter a message per line, ctrl-d to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		msg := scanner.Text()
		if msg == "" {
			continue
		}

		emitter := stream.NewEmitter(256)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			renderEvents(emitter)
		}()

		if err := orch.HandleMessage(cmd.Context(), serveUser, serveProject, msg, emitter); err != nil {
			rt.logger.Error("message handling failed", "error", err.Error())
		}
		wg.Wait()
	}
	return scanner.Err()
}

// renderEvents prints the stream to stdout until the emitter closes.
func renderEvents(emitter *stream.Emitter) {
	for ev := range emitter.Events() {
		switch e := ev.(type) {
		case stream.TextDeltaEvent:
			fmt.Print(e.Content)
		case stream.OrchestratorSessionEvent:
			fmt.Printf("[session %s: %s]\n", e.SessionID, e.Status)
		case stream.OrchestratorPlanningEvent:
			fmt.Printf("[planning %s]\n", e.Status)
		case stream.OrchestratorDelegationEvent:
			fmt.Printf("[delegating task %s]\n", e.TaskID)
		case stream.OrchestratorTaskCompletedEvent:
			verdict := "succeeded"
			if !e.Success {
				verdict = "failed"
			}
			fmt.Printf("[task %s %s]\n", e.TaskID, verdict)
		case stream.OrchestratorProgressEvent:
			fmt.Printf("[progress %d%% (%d/%d, %d failed)]\n",
				e.PercentComplete, e.CompletedTasks, e.TotalTasks, e.FailedTasks)
		case stream.FileStreamCompleteEvent:
			fmt.Printf("[wrote %s (%d bytes)]\n", e.Path, len(e.Content))
		case stream.DoneEvent:
			fmt.Println("[done]")
		}
	}
}
