package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandle_Valid(t *testing.T) {
	require.True(t, Handle(1000).Valid())
	require.True(t, Handle(999999).Valid())
	require.False(t, Handle(999).Valid())
	require.False(t, Handle(1000000).Valid())
	require.False(t, Handle(5).Valid())
}

func TestProfile_AssignedHandle(t *testing.T) {
	var nilProfile *Profile
	_, ok := nilProfile.AssignedHandle()
	require.False(t, ok)

	_, ok = (&Profile{ID: "alice"}).AssignedHandle()
	require.False(t, ok)

	n := 4321
	h, ok := (&Profile{ID: "alice", Handle: &n}).AssignedHandle()
	require.True(t, ok)
	require.Equal(t, Handle(4321), h)
	require.Equal(t, "4321", h.String())
}

func TestItemUpdate_ApplyTo(t *testing.T) {
	item := ListItem{Name: "eggs"}
	require.True(t, ItemUpdate{}.Empty())

	done := true
	got := ItemUpdate{Completed: &done}.ApplyTo(item)
	require.True(t, got.Completed)
	require.Equal(t, "eggs", got.Name)
	require.False(t, item.Completed)

	name := "brown eggs"
	got = ItemUpdate{Name: &name}.ApplyTo(item)
	require.Equal(t, "brown eggs", got.Name)
}
