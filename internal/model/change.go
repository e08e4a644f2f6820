package model

import (
	"fmt"

	"github.com/google/uuid"
)

// EventType is the row operation a ChangeEvent reports.
type EventType string

const (
	EventInserted EventType = "INSERT"
	EventUpdated  EventType = "UPDATE"
	EventDeleted  EventType = "DELETE"
)

// ChangeEvent is one row-level notification from a list's change stream.
// INSERT and UPDATE carry the full row in New; DELETE carries at least the id in Old.
type ChangeEvent struct {
	EventType EventType `json:"eventType"`
	ListID    uuid.UUID `json:"listId"`
	New       *ListItem `json:"new,omitempty"`
	Old       *ListItem `json:"old,omitempty"`
}

// Inserted builds an INSERT event for item.
func Inserted(item ListItem) ChangeEvent {
	return ChangeEvent{EventType: EventInserted, ListID: item.ListID, New: &item}
}

// Updated builds an UPDATE event for item.
func Updated(item ListItem) ChangeEvent {
	return ChangeEvent{EventType: EventUpdated, ListID: item.ListID, New: &item}
}

// Deleted builds a DELETE event for the item id.
func Deleted(listID, itemID uuid.UUID) ChangeEvent {
	return ChangeEvent{EventType: EventDeleted, ListID: listID, Old: &ListItem{ID: itemID, ListID: listID}}
}

// ItemID returns the id of the row the event refers to.
func (e ChangeEvent) ItemID() uuid.UUID {
	switch {
	case e.New != nil:
		return e.New.ID
	case e.Old != nil:
		return e.Old.ID
	default:
		return uuid.Nil
	}
}

// Validate checks that the event carries the row its type requires.
func (e ChangeEvent) Validate() error {
	switch e.EventType {
	case EventInserted, EventUpdated:
		if e.New == nil || e.New.ID == uuid.Nil {
			return fmt.Errorf("%s event without new row", e.EventType)
		}
	case EventDeleted:
		if e.Old == nil || e.Old.ID == uuid.Nil {
			return fmt.Errorf("DELETE event without old row id")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.EventType)
	}
	return nil
}
