// Package compiler turns line-oriented narrative scripts into scenario
// documents.
//
// A script is read line by line. Each line is trimmed and NFC-normalized;
// blank lines are skipped. The parser is a finite-state machine over three
// states:
//
//	Outside   no scene open; only directives and scene markers matter
//	InScene   a LinearScene is accumulating body lines and choices
//	InEnding  an Ending is accumulating body lines (and maybe its title)
//
// With the default Syntax:
//
//	#title The Cave        document title (defaults to the source name)
//	#start intro           start scene (defaults to the first scene)
//	#scene intro           opens a LinearScene
//	#ending bad            opens an Ending
//	> Run -> bad (-nerve)  choice: label, target, optional effects
//	엔딩: Lost forever      first such line in an Ending becomes its title
//
// #title and #start are header directives: they only apply before the first
// scene marker. Inside a scene or ending they are kept as body text.
// Choice lines that do not match the pattern are dropped without error.
// Parsing never fails; validation of the result does.
//
// # Modes
//
// Lenient (default) is what a live session uses: the document only needs a
// title, a start id and at least one scene. Strict is what the standalone
// importer uses: start and every choice target must resolve and scene ids
// must be unique.
package compiler
