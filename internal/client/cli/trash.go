package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
)

// TrashList prints the trash, newest first, with days left before expiry.
func (a *App) TrashList(ctx context.Context) error {
	list, err := a.trash.ListAll(ctx, a.userID())
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	if list.Stale {
		printlnFn("(offline copy, may be out of date)")
	}
	if len(list.Items) == 0 {
		printlnFn("Trash is empty")
	}
	for _, it := range list.Items {
		left := int((models.TrashRetention - now().Sub(it.DeletedAt)).Hours() / 24)
		if left < 0 {
			left = 0
		}
		printlnFn(fmt.Sprintf("%-9s %s  %s  (deleted %s, %d days left)",
			it.Type, it.ID, it.Name, it.DeletedAt.Local().Format("2006-01-02"), left))
	}
	return nil
}

func (a *App) Restore(ctx context.Context, args []string) error {
	kind, ok := a.parseTrashKind(args, "restore <kind> <id>")
	if !ok {
		return nil
	}
	res, err := a.trash.Restore(ctx, a.userID(), kind, args[1])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	printResult(res)
	return nil
}

// Purge deletes a trashed entity permanently.
func (a *App) Purge(ctx context.Context, args []string) error {
	kind, ok := a.parseTrashKind(args, "purge <kind> <id>")
	if !ok {
		return nil
	}
	res, err := a.trash.PermanentlyDelete(ctx, a.userID(), kind, args[1])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	printResult(res)
	return nil
}

func (a *App) Cleanup(ctx context.Context) error {
	n, err := a.trash.CleanupExpired(ctx, a.userID())
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	printlnFn(fmt.Sprintf("Purged %d expired item(s)", n))
	return nil
}

func (a *App) parseTrashKind(args []string, usage string) (models.EntityKind, bool) {
	if len(args) < 2 {
		printlnFn("Usage:", usage)
		return "", false
	}
	kind, err := models.ParseKind(args[0])
	if err != nil {
		printlnFn(err.Error())
		return "", false
	}
	return kind, true
}
