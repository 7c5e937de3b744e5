package cli

import (
	"context"
	"os"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login prompts for credentials and opens a session, online when the server
// answers and offline from the cached credentials otherwise. The configured
// username, when set, is used without asking.
//
// On success the mode becomes ModeOnline or ModeOffline and the background
// sync loops start. When neither login works the mode is ModeDisabled. The
// password is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	userName := ""
	if a.config != nil {
		userName = a.config.Username
	}
	if userName == "" {
		var err error
		userName, err = getSimpleText(a.reader, "Enter username", os.Stdout)
		if err != nil {
			return err
		}
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	session, online, err := a.authService.Login(ctx, userName, password)
	if err != nil {
		printlnFn("Login unsuccessful:", err.Error())
		a.setMode(ModeDisabled)
		return err
	}

	a.mu.Lock()
	a.session = session
	a.userName = userName
	a.mu.Unlock()

	if online {
		printlnFn("Logged in")
		a.setMode(ModeOnline)
	} else {
		printlnFn("Server unreachable, logged in offline")
		a.setMode(ModeOffline)
	}
	a.startBackground()
	return nil
}

// Logout stops the background loops, forgets the cached credentials and
// clears the in-memory session.
func (a *App) Logout(ctx context.Context) error {
	a.stopBackground()
	if err := a.authService.ClearOfflineData(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.session = client.Session{}
	a.userName = ""
	a.mu.Unlock()
	printlnFn("Logged out")
	return nil
}
