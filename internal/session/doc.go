// Package session defines the replicated session document and the
// narrative log shared by the two participants of a room.
//
// State is the single last-writer-wins document; Version orders revisions
// and only the turn holder produces a new one. Log is the append/edit
// collection of per-turn text, merged by message id.
package session
