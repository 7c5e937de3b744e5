package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/events"
)

// now is a test seam.
var now = time.Now

// Sync drains the queued changes right away. Local changes whose operation
// was given up on are queued again first.
func (a *App) Sync(ctx context.Context) error {
	if a.mode() != ModeOnline {
		printlnFn("Offline: changes will sync when the server is reachable")
		return nil
	}
	uid := a.userID()
	if _, err := a.sync.Rebuild(ctx, uid); err != nil {
		a.log.Error(ctx, "queue rebuild failed", "error", err)
	}
	if _, err := a.trash.Rebuild(ctx, uid); err != nil {
		a.log.Error(ctx, "trash queue rebuild failed", "error", err)
	}
	r := a.sync.ProcessPendingOperations(ctx)
	printlnFn(fmt.Sprintf("Synced %d, retrying %d, dropped %d", r.Succeeded, r.Requeued, r.Dropped))
	return nil
}

// Status prints the mode and the number of queued changes.
func (a *App) Status(context.Context) error {
	printlnFn(fmt.Sprintf("Mode: %s, queued changes: %d", a.mode(), a.sync.PendingCount()))
	return nil
}

// printEvents shows bus notifications until ctx is done or the channel closes.
func (a *App) printEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if line := formatEvent(e); line != "" {
				printlnFn(line)
			}
		case <-ctx.Done():
			return
		}
	}
}

// formatEvent renders the notifications worth interrupting the prompt for.
// Results of commands are printed by the commands themselves.
func formatEvent(e events.Event) string {
	switch e.Kind {
	case events.ConnectivityChanged, events.RetryExhausted:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	case events.SyncFailed, events.SyncSucceeded:
		if e.Key == "" && e.Store != "" {
			return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Store, e.Message)
		}
	}
	return ""
}
