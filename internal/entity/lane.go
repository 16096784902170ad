package entity

import "github.com/roach88/entitystore/internal/record"

// task is one queued mutation step.
type task func()

// lane is the FIFO of mutations targeting one record id.
//
// A lane is owned by its store: every method is called with the store's
// lock held. At most one goroutine drains a lane, so tasks on the same lane
// run strictly in the order they were pushed, while different lanes run
// concurrently.
type lane struct {
	key   record.ID
	tasks []task

	// canonical is the id a provisional lane key was reconciled to, if any.
	// Mutations addressed to the canonical id join this lane until it drains.
	canonical record.ID
}

func newLane(key record.ID) *lane {
	return &lane{key: key, tasks: make([]task, 0, 4)}
}

func (l *lane) push(t task) {
	l.tasks = append(l.tasks, t)
}

// pop removes and returns the front task, or nil if the lane is empty.
func (l *lane) pop() task {
	if len(l.tasks) == 0 {
		return nil
	}
	t := l.tasks[0]

	// Nil out the slot so the closure's captures can be collected.
	l.tasks[0] = nil
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}
	return t
}

func (l *lane) len() int {
	return len(l.tasks)
}
