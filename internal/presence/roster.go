package presence

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/duet/internal/session"
	"github.com/roach88/duet/internal/transport"
)

// Entry is one connected client.
type Entry struct {
	Role        session.Role `json:"role"`
	DisplayName string       `json:"displayName"`
	JoinedAt    time.Time    `json:"joinedAt"`
	ClientID    string       `json:"clientId"`
}

// Roster is the ordered list of connected clients: Primary entries first,
// then Secondary, each by join time.
type Roster struct {
	Entries []Entry `json:"entries"`
}

// FromState builds a roster from a presence snapshot keyed by role.
// Records under unknown keys are ignored.
func FromState(state transport.PresenceState) Roster {
	var r Roster
	for _, role := range session.Roles {
		entries := make([]Entry, 0, len(state[string(role)]))
		for _, m := range state[string(role)] {
			entries = append(entries, Entry{
				Role:        role,
				DisplayName: m.DisplayName,
				JoinedAt:    m.JoinedAt,
				ClientID:    m.ClientID,
			})
		}
		slices.SortStableFunc(entries, compareEntries)
		r.Entries = append(r.Entries, entries...)
	}
	return r
}

// compareEntries orders by join time, then client id.
func compareEntries(a, b Entry) int {
	if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ClientID, b.ClientID)
}

// ByRole returns the entries holding role, earliest first.
func (r Roster) ByRole(role session.Role) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Role == role {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether at least one client holds role.
func (r Roster) Has(role session.Role) bool {
	return len(r.ByRole(role)) > 0
}

// Ready reports whether both roles are connected.
func (r Roster) Ready() bool {
	return r.Has(session.Primary) && r.Has(session.Secondary)
}

// String renders "primary: Ann · secondary: Ben", with "waiting" for an
// empty role.
func (r Roster) String() string {
	parts := make([]string, 0, len(session.Roles))
	for _, role := range session.Roles {
		entries := r.ByRole(role)
		if len(entries) == 0 {
			parts = append(parts, fmt.Sprintf("%s: waiting", role))
			continue
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.DisplayName
			if names[i] == "" {
				names[i] = "anonymous"
			}
		}
		parts = append(parts, fmt.Sprintf("%s: %s", role, strings.Join(names, ", ")))
	}
	return strings.Join(parts, " · ")
}
