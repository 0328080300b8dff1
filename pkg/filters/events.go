package filters

import (
	"time"
)

// ChangeEvent is emitted when a load adds at least one new filter.
type ChangeEvent struct {
	Added      []*Filter
	Generation uint64
	Timestamp  time.Time
}

// ChangeHandler receives change events. Handlers run on their own
// goroutine and must not assume ordering between events.
type ChangeHandler func(event ChangeEvent)

// RebuildHook runs synchronously after every rebuild of the derived views,
// before the mutating call returns. It must not call back into the
// registry's mutation methods.
type RebuildHook func(generation uint64)

// Stats summarizes the current registry state.
type Stats struct {
	Loaded     int    `json:"loaded"`
	Active     int    `json:"active"`
	Slots      int    `json:"slots"`
	Generation uint64 `json:"generation"`
}
