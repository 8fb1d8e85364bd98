// Package presence turns a channel's presence registry into what the
// session needs: a roster, the both-roles-connected gate, and detection of
// a second client claiming the Primary role.
package presence
