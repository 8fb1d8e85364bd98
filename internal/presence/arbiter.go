package presence

import (
	"github.com/roach88/duet/internal/session"
	"github.com/roach88/duet/internal/transport"
)

// Duplicate describes a detected second Primary.
type Duplicate struct {
	Room   string `json:"room"`
	Keeper Entry  `json:"keeper"`
	Count  int    `json:"count"`
}

// Arbiter evaluates presence syncs for one client. It is owned by the
// client's event loop and is not safe for concurrent use.
type Arbiter struct {
	room     string
	role     session.Role
	clientID string
	fired    bool
}

// NewArbiter returns an arbiter for the client clientID holding role in room.
func NewArbiter(room string, role session.Role, clientID string) *Arbiter {
	return &Arbiter{room: room, role: role, clientID: clientID}
}

// Roster builds the roster for a sync.
func (a *Arbiter) Roster(state transport.PresenceState) Roster {
	return FromState(state)
}

// CheckDuplicate reports whether this client is a redundant Primary.
// Only a Primary that is not the earliest-joined Primary (ties broken by
// client id) is redundant. It reports true at most once per Arbiter.
func (a *Arbiter) CheckDuplicate(state transport.PresenceState) (Duplicate, bool) {
	if a.fired || a.role != session.Primary {
		return Duplicate{}, false
	}
	primaries := FromState(state).ByRole(session.Primary)
	if len(primaries) < 2 {
		return Duplicate{}, false
	}
	keeper := primaries[0]
	if keeper.ClientID == a.clientID {
		return Duplicate{}, false
	}
	a.fired = true
	return Duplicate{Room: a.room, Keeper: keeper, Count: len(primaries)}, true
}

// Fired reports whether a duplicate has been reported.
func (a *Arbiter) Fired() bool {
	return a.fired
}
