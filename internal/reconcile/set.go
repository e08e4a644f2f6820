package reconcile

import (
	"github.com/chirino/ulists/internal/model"
	"github.com/google/uuid"
)

// itemSet is an ordered collection of items with unique ids. Items keep the
// position they were first added at; replacing an item never moves it.
type itemSet struct {
	order []uuid.UUID
	byID  map[uuid.UUID]model.ListItem
}

func newItemSet() *itemSet {
	return &itemSet{byID: map[uuid.UUID]model.ListItem{}}
}

func (s *itemSet) len() int { return len(s.order) }

func (s *itemSet) get(id uuid.UUID) (model.ListItem, bool) {
	item, ok := s.byID[id]
	return item, ok
}

func (s *itemSet) index(id uuid.UUID) int {
	if _, ok := s.byID[id]; !ok {
		return -1
	}
	for i, v := range s.order {
		if v == id {
			return i
		}
	}
	return -1
}

// upsert replaces the item in place or appends it.
func (s *itemSet) upsert(item model.ListItem) {
	if _, ok := s.byID[item.ID]; !ok {
		s.order = append(s.order, item.ID)
	}
	s.byID[item.ID] = item
}

// insertAt puts an absent item at position i, clamped to the current bounds.
// Present items are replaced in place.
func (s *itemSet) insertAt(i int, item model.ListItem) {
	if _, ok := s.byID[item.ID]; ok {
		s.byID[item.ID] = item
		return
	}
	if i < 0 {
		i = 0
	}
	if i > len(s.order) {
		i = len(s.order)
	}
	s.order = append(s.order, uuid.Nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = item.ID
	s.byID[item.ID] = item
}

// remove deletes the item, returning it and its former position.
func (s *itemSet) remove(id uuid.UUID) (model.ListItem, int, bool) {
	i := s.index(id)
	if i < 0 {
		return model.ListItem{}, -1, false
	}
	item := s.byID[id]
	delete(s.byID, id)
	s.order = append(s.order[:i], s.order[i+1:]...)
	return item, i, true
}

// apply merges a change event: INSERT and UPDATE replace in place or append,
// DELETE removes and ignores unknown ids.
func (s *itemSet) apply(ev model.ChangeEvent) {
	switch ev.EventType {
	case model.EventInserted, model.EventUpdated:
		if ev.New != nil {
			s.upsert(*ev.New)
		}
	case model.EventDeleted:
		s.remove(ev.ItemID())
	}
}

// reset replaces the whole content, keeping the given order. Later duplicates
// of an id replace the earlier value in place.
func (s *itemSet) reset(items []model.ListItem) {
	s.order = make([]uuid.UUID, 0, len(items))
	s.byID = make(map[uuid.UUID]model.ListItem, len(items))
	for _, item := range items {
		s.upsert(item)
	}
}

// snapshot returns a copy of the items in order.
func (s *itemSet) snapshot() []model.ListItem {
	items := make([]model.ListItem, len(s.order))
	for i, id := range s.order {
		items[i] = s.byID[id]
	}
	return items
}
