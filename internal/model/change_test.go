package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestChangeEvent_ItemID(t *testing.T) {
	listID := uuid.New()
	item := ListItem{ID: uuid.New(), ListID: listID, Name: "eggs"}

	require.Equal(t, item.ID, Inserted(item).ItemID())
	require.Equal(t, item.ID, Updated(item).ItemID())
	require.Equal(t, item.ID, Deleted(listID, item.ID).ItemID())
	require.Equal(t, uuid.Nil, ChangeEvent{EventType: EventDeleted}.ItemID())
}

func TestChangeEvent_Validate(t *testing.T) {
	listID := uuid.New()
	item := ListItem{ID: uuid.New(), ListID: listID, Name: "eggs"}

	require.NoError(t, Inserted(item).Validate())
	require.NoError(t, Deleted(listID, item.ID).Validate())
	require.Error(t, ChangeEvent{EventType: EventUpdated, ListID: listID}.Validate())
	require.Error(t, ChangeEvent{EventType: EventDeleted, ListID: listID}.Validate())
	require.Error(t, ChangeEvent{EventType: "TRUNCATE", ListID: listID}.Validate())
}

// The postgres trigger builds its payload with jsonb_build_object; keep the
// field names in sync with it.
func TestChangeEvent_DecodesTriggerPayload(t *testing.T) {
	payload := `{"eventType":"UPDATE","listId":"6a1f0f4e-2f1e-4d7c-9f34-5b0b8f0d6c11",
		"new":{"id":"0e9b3c1a-8a4e-4b6f-9d5c-7a2e1f3b4c5d","listId":"6a1f0f4e-2f1e-4d7c-9f34-5b0b8f0d6c11",
		"name":"eggs","completed":true,"createdAt":"2025-02-17T10:11:12.123456+00:00"}}`

	var ev ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))
	require.NoError(t, ev.Validate())
	require.Equal(t, EventUpdated, ev.EventType)
	require.Equal(t, "eggs", ev.New.Name)
	require.True(t, ev.New.Completed)
	require.Equal(t, 2025, ev.New.CreatedAt.Year())
	require.Equal(t, time.UTC.String(), ev.New.CreatedAt.UTC().Location().String())
}
