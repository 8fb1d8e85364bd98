package session

import (
	"slices"
)

// Log is the narrative log: idempotent by id, ordered by timestamp.
// It is not safe for concurrent use; the owning event loop serializes access.
type Log struct {
	entries []Message
	index   map[string]int
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{index: make(map[string]int)}
}

// Add inserts m unless its id is already present. Reports whether the log
// changed.
func (l *Log) Add(m Message) bool {
	if _, ok := l.index[m.ID]; ok {
		return false
	}
	l.entries = append(l.entries, m)
	l.reorder()
	return true
}

// Update overwrites the entry with m's id and marks it edited. An unknown
// id is inserted so an edit that overtakes its add is not lost.
func (l *Log) Update(m Message) {
	m.Edited = true
	if i, ok := l.index[m.ID]; ok {
		l.entries[i] = m
	} else {
		l.entries = append(l.entries, m)
	}
	l.reorder()
}

// Get returns the entry with id.
func (l *Log) Get(id string) (Message, bool) {
	i, ok := l.index[id]
	if !ok {
		return Message{}, false
	}
	return l.entries[i], true
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log in display order.
func (l *Log) Entries() []Message {
	return slices.Clone(l.entries)
}

// reorder stable-sorts by timestamp and rebuilds the id index. Entries with
// equal timestamps keep arrival order.
func (l *Log) reorder() {
	slices.SortStableFunc(l.entries, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	clear(l.index)
	for i, m := range l.entries {
		l.index[m.ID] = i
	}
}
