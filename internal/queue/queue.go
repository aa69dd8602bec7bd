package queue

import "context"

// Lane names the two FIFO lanes the Queue Abstraction provides
// (spec.md §4.2). These double as QueueType values for the Notifier
// wake-up layer.
const (
	LaneBlocking    = QueueBlocking
	LaneNonBlocking = QueueNonBlocking
)

// Element is the unit of work carried by a Queue: a request ID plus
// whether its return value should be discarded on success.
type Element struct {
	RequestID         string
	IgnoreReturnValue bool
}

// Queue is the narrow interface both backends (in-process and Redis)
// implement. Both must provide a non-blocking Get — workers poll, they
// do not block indefinitely inside the queue itself.
type Queue interface {
	// Put enqueues el onto lane.
	Put(ctx context.Context, lane QueueType, el Element) error
	// Get dequeues the oldest element from lane, or returns
	// (Element{}, false, nil) if the lane is empty.
	Get(ctx context.Context, lane QueueType) (Element, bool, error)
	// Len reports the current depth of lane.
	Len(ctx context.Context, lane QueueType) (int, error)
}
