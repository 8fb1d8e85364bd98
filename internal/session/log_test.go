package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration, body string) Message {
	return Message{ID: id, Role: Primary, Body: body, Timestamp: t0.Add(offset)}
}

func bodies(entries []Message) []string {
	out := make([]string, len(entries))
	for i, m := range entries {
		out[i] = m.Body
	}
	return out
}

func TestLogAddIdempotent(t *testing.T) {
	l := NewLog()
	m := msg("m1", 0, "hello")

	assert.True(t, l.Add(m))
	assert.False(t, l.Add(m))
	assert.False(t, l.Add(msg("m1", time.Second, "different")), "id decides identity")

	require.Equal(t, 1, l.Len())
	assert.Equal(t, "hello", l.Entries()[0].Body)
}

func TestLogOrdersByTimestamp(t *testing.T) {
	l := NewLog()
	l.Add(msg("c", 2*time.Second, "third"))
	l.Add(msg("a", 0, "first"))
	l.Add(msg("b", time.Second, "second"))

	assert.Equal(t, []string{"first", "second", "third"}, bodies(l.Entries()))
}

func TestLogEqualTimestampsKeepArrivalOrder(t *testing.T) {
	l := NewLog()
	l.Add(msg("x", 0, "one"))
	l.Add(msg("y", 0, "two"))
	l.Add(msg("z", 0, "three"))

	assert.Equal(t, []string{"one", "two", "three"}, bodies(l.Entries()))
}

func TestLogUpdateOverwritesAndMarksEdited(t *testing.T) {
	l := NewLog()
	l.Add(msg("a", 0, "first"))
	l.Add(msg("b", time.Second, "second"))

	l.Update(msg("a", 0, "first, revised"))

	got, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first, revised", got.Body)
	assert.True(t, got.Edited)
	assert.Equal(t, []string{"first, revised", "second"}, bodies(l.Entries()))

	// A late duplicate add must not revert the edit.
	assert.False(t, l.Add(msg("a", 0, "first")))
	got, _ = l.Get("a")
	assert.Equal(t, "first, revised", got.Body)
}

func TestLogUpdateBeforeAdd(t *testing.T) {
	l := NewLog()
	l.Update(msg("a", 0, "edited early"))
	assert.False(t, l.Add(msg("a", 0, "original")))

	got, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, "edited early", got.Body)
	assert.True(t, got.Edited)
}

func TestLogEntriesIsACopy(t *testing.T) {
	l := NewLog()
	l.Add(msg("a", 0, "first"))
	entries := l.Entries()
	entries[0].Body = "mutated"

	got, _ := l.Get("a")
	assert.Equal(t, "first", got.Body)
}
