package scene

import "slices"

// EventType classifies a scene change notification.
type EventType int

const (
	NodeAdded EventType = iota + 1
	NodeRemoved
	Modified     // attributes, hidden flag, children or associated data
	Renamed      // name or item display name
	ItemReplaced // item content overwritten by CopyItem
)

func (t EventType) String() string {
	switch t {
	case NodeAdded:
		return "node_added"
	case NodeRemoved:
		return "node_removed"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	case ItemReplaced:
		return "item_replaced"
	default:
		return "unknown"
	}
}

// Event describes one change. Parent is set for NodeAdded and NodeRemoved.
type Event struct {
	Type   EventType `json:"type"`
	Node   NodeID    `json:"node"`
	Parent NodeID    `json:"parent,omitempty"`
}

// Handler receives events synchronously, after the change is applied.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Subscribe registers fn for every event and returns a function that
// removes it. Handlers run in subscription order.
func (s *Scene) Subscribe(fn Handler) (cancel func()) {
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	return func() {
		s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
	}
}

func (s *Scene) emit(ev Event) {
	// A handler may unsubscribe while we iterate.
	for _, sub := range slices.Clone(s.subs) {
		sub.fn(ev)
	}
}
