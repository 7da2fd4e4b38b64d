package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgehq/forge/internal/callctx"
	"github.com/forgehq/forge/internal/session"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sessions whose expiry window has elapsed",
	Long: `Cleanup removes every session past its expiry window from the
session store, including its task state, store indexes, and any
call-context entries still registered under it.

Sessions expire 24 hours after creation (session.ttl_hours). Expired
sessions are already invisible to load-or-create; cleanup reclaims
their storage.`,
	RunE: runCleanupSessions,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanupSessions(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	var calls *callctx.Store
	if rt.client != nil {
		calls = callctx.NewStore(rt.client, rt.logger, rt.cfg.CallContext.TTL())
	}

	removed, contexts, err := cleanupSessions(cmd.Context(), rt.sessions, calls)
	if err != nil {
		return err
	}

	if removed == 0 {
		fmt.Println("No expired sessions.")
	} else {
		fmt.Printf("Removed %d expired session(s) and %d call context entrie(s).\n", removed, contexts)
	}
	return nil
}

// cleanupSessions sweeps call-context entries for every expired session and
// then deletes the sessions themselves. A nil calls store skips the context
// sweep (memory driver, no Redis configured). Context sweep failures are
// tolerated: the entries carry their own TTL and reclaim themselves.
func cleanupSessions(ctx context.Context, sessions *session.Manager, calls *callctx.Store) (removedSessions, removedContexts int, err error) {
	if calls != nil {
		ids, err := sessions.ListExpired(ctx)
		if err != nil {
			return 0, 0, err
		}
		for _, id := range ids {
			n, err := calls.CleanupForSession(ctx, id)
			if err != nil {
				continue
			}
			removedContexts += n
		}
	}

	removedSessions, err = sessions.CleanupExpired(ctx)
	if err != nil {
		return 0, removedContexts, err
	}
	return removedSessions, removedContexts, nil
}
