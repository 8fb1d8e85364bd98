// Package scenario defines the compiled scene graph shared by the compiler,
// the lobby and the replication engine.
//
// A Document is a titled, ordered list of scenes with a designated start
// scene. Scenes are a closed set of variants:
//   - LinearScene: body text plus the choices that lead elsewhere
//   - Ending: a terminal scene with an optional title
//
// Documents are immutable once compiled. They carry no behaviour beyond
// lookup; the replicated session only ever stores scene ids.
//
// The package imports nothing internal so every other package can depend
// on it without cycles.
package scenario
