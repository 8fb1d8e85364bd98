// Package engine implements one participant's replica of a duet room.
//
// A Client keeps the session document, the narrative log and the roster in
// step with its peer over a best-effort broadcast channel. There is no
// server authority: the Primary seeds the document, each turn holder
// produces the next version, and every replica adopts a received document
// only when its version is strictly higher than the local one.
//
// Single-writer event loop:
// All state belongs to one consumer. Transport callbacks (broadcasts,
// presence syncs, subscription status) and local actions (Load, Join,
// Choose, Edit, Leave) only enqueue onto a FIFO queue. Client.Run consumes
// the queue in a goroutine; tests call Client.Drain instead to process
// deliveries deterministically. Readers never touch loop state: every
// processed event publishes an immutable View through an atomic pointer.
//
// Lifecycle:
//
//	awaiting_scenario --Load--> awaiting_state --state known--> active
//	                                  any --duplicate primary--> redirected
//	                                  any --Leave--> closed
//
// Broadcast events are "state:update", "state:request", "msg:add" and
// "msg:update". Sends are fire-and-forget: no acknowledgement, retry or
// timeout. A lost update is recovered by the next higher version or by a
// state request from a (re)joining peer, which is answered with the state
// and the whole log.
//
// The turn check is local only. A peer that sends a higher version out of
// turn is still adopted.
package engine
