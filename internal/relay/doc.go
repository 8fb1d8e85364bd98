// Package relay is the server side of the websocket transport.
//
// One relay process serves any number of channels. A connection subscribes
// to one channel, may track a presence record on it, and broadcasts frames
// that the relay fans out to every other subscriber of that channel. The
// relay keeps no history: a client that is not connected misses the frame.
//
// Routes:
//
//	GET  /up         liveness probe
//	GET  /ws         websocket endpoint (transport.Frame JSON messages)
//	GET  /kv/{key}   read a stored blob
//	PUT  /kv/{key}   write a stored blob
//
// The /kv routes let clients without local storage share compiled
// scenarios and display names through store.Remote.
package relay
