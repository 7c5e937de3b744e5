package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Add(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Trash(ctx context.Context, args []string) error
	TrashList(ctx context.Context) error
	Restore(ctx context.Context, args []string) error
	Purge(ctx context.Context, args []string) error
	Cleanup(ctx context.Context) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
}

const (
	helpLoggedOut = "Available commands: login, exit"
	helpLoggedIn  = "Available commands: (l)ist <kind>, show <kind> <id>, add <kind>, edit <kind> <id>, " +
		"delete <kind> <id>, trash <kind> <id>, bin, restore <kind> <id>, purge <kind> <id>, cleanup, " +
		"sync, status, logout, exit\nKinds: customer, device, service, document"
)

// runREPL starts a simple read-eval-print loop for the shop client.
//
// It reads a line from the provided scanner, parses the first token as the
// command and passes the rest as arguments. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit". Data commands need a session; without one the user is
// asked to log in.
//
// Any errors returned by command handlers are ignored here; handlers print
// their own messages. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("shop %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpLoggedOut)
			}
			continue
		case "login":
			_ = a.Login(ctx)
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		if !a.isLoggedIn() {
			if isCommand(cmd) {
				printlnFn("Please log in first")
			} else {
				printlnFn("Unknown command:", cmd)
			}
			continue
		}

		switch cmd {
		case "l", "list":
			_ = a.List(ctx, args)
		case "show":
			_ = a.Show(ctx, args)
		case "add":
			_ = a.Add(ctx, args)
		case "edit":
			_ = a.Edit(ctx, args)
		case "delete":
			_ = a.Delete(ctx, args)
		case "trash":
			_ = a.Trash(ctx, args)
		case "bin":
			_ = a.TrashList(ctx)
		case "restore":
			_ = a.Restore(ctx, args)
		case "purge":
			_ = a.Purge(ctx, args)
		case "cleanup":
			_ = a.Cleanup(ctx)
		case "sync":
			_ = a.Sync(ctx)
		case "status":
			_ = a.Status(ctx)
		case "logout":
			_ = a.Logout(ctx)
		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}

func isCommand(cmd string) bool {
	switch cmd {
	case "l", "list", "show", "add", "edit", "delete", "trash", "bin", "restore", "purge",
		"cleanup", "sync", "status", "logout":
		return true
	}
	return false
}
