package cli

import (
	"testing"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/events"
	"github.com/stretchr/testify/assert"
)

func TestIsLoggedIn(t *testing.T) {
	app := &App{}
	assert.False(t, app.isLoggedIn())

	app.session = client.Session{UserID: "u1", Token: "t"}
	assert.True(t, app.isLoggedIn())
}

func TestGetStatus(t *testing.T) {
	assert.Equal(t, "", (&App{}).getStatus())
	assert.Equal(t, "(alice )", (&App{userName: "alice"}).getStatus())
	assert.Equal(t, "(alice online)", (&App{userName: "alice", Mode: ModeOnline}).getStatus())
}

func TestSetMode(t *testing.T) {
	app := &App{}
	app.setMode(ModeOnline)
	assert.Equal(t, ModeOnline, app.mode())
	app.setMode(ModeOffline)
	assert.Equal(t, ModeOffline, app.mode())
}

func TestStartBackground_WithoutRunDoesNothing(t *testing.T) {
	app := &App{session: client.Session{UserID: "u1"}}
	app.startBackground()
	assert.Nil(t, app.bgCancel)
	app.stopBackground()
}

func TestFormatEvent(t *testing.T) {
	cases := []struct {
		e    events.Event
		want string
	}{
		{events.Event{Kind: events.ConnectivityChanged, Message: "switched to online mode"}, "[connectivity-changed] switched to online mode"},
		{events.Event{Kind: events.RetryExhausted, Store: "customers", Key: "c1", Message: "gave up"}, "[retry-exhausted] gave up"},
		{events.Event{Kind: events.SyncFailed, Store: "customers", Message: "1 change(s) not synced"}, "[sync-failed] customers: 1 change(s) not synced"},
		{events.Event{Kind: events.SyncSucceeded, Store: "customers", Key: "c1", Message: "saved"}, ""},
		{events.Event{Kind: events.QueuedOffline, Store: "customers", Key: "c1"}, ""},
		{events.Event{Kind: events.TrashChanged}, ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, formatEvent(c.e))
	}
}
