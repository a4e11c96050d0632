package engine

// EventType discriminates progress events emitted during a sync run.
type EventType int

const (
	EventFolderStarted EventType = iota
	EventFolderFinished
	EventHunkApplied
	EventHunkFailed
)

// Event is a progress notification consumed by UIs. Events are
// best-effort: they are dropped rather than ever blocking a worker.
type Event struct {
	Type   EventType
	Folder string
	Hunk   string
	Err    error
}

// emitter delivers events without blocking. A nil emitter discards.
type emitter chan<- Event

func (e emitter) send(ev Event) {
	if e == nil {
		return
	}
	select {
	case e <- ev:
	default:
		// Drop if the channel is full to avoid blocking a worker.
	}
}
