package models

import (
	"encoding/json"
	"time"
)

// Action is the kind of deferred mutation.
type Action string

const (
	ActionSave    Action = "save"
	ActionDelete  Action = "delete"
	ActionTrash   Action = "trash"
	ActionRestore Action = "restore"
	ActionPurge   Action = "purge"
)

// Family groups actions that supersede each other for the same key.
type Family string

const (
	FamilyData  Family = "data"
	FamilyTrash Family = "trash"
)

func (a Action) Family() Family {
	switch a {
	case ActionTrash, ActionRestore, ActionPurge:
		return FamilyTrash
	default:
		return FamilyData
	}
}

// DeleteLike actions treat a remote "not found" as done.
func (a Action) DeleteLike() bool {
	return a == ActionDelete || a == ActionTrash || a == ActionPurge
}

// PendingOperation is a queued mutation awaiting delivery to the gateway.
type PendingOperation struct {
	ID         string
	Action     Action
	UserID     string
	Store      string
	Key        string
	Payload    json.RawMessage
	Attempts   int
	EnqueuedAt time.Time
}

// SlotKey identifies the coalescing slot: one queued operation per
// (user, store, key, family).
func (op PendingOperation) SlotKey() string {
	return CompositeKey(op.UserID, op.Store, op.Key) + "#" + string(op.Action.Family())
}
