// Package lobby prepares a client to enter a room: it validates the entry
// form, compiles or fetches the room's scenario, and remembers display
// names per (room, role) in the key-value store.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/roach88/duet/internal/compiler"
	"github.com/roach88/duet/internal/scenario"
	"github.com/roach88/duet/internal/session"
	"github.com/roach88/duet/internal/store"
)

var (
	ErrInvalidRoom      = errors.New("room code must be 2-12 letters or digits")
	ErrInvalidRole      = errors.New("role must be primary or secondary")
	ErrMissingName      = errors.New("display name is required")
	ErrScenarioNotFound = errors.New("no scenario has been published for this room")
)

var roomPattern = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)

// NormalizeRoom upper-cases and validates a room code.
func NormalizeRoom(code string) (string, error) {
	room := strings.ToUpper(strings.TrimSpace(code))
	if !roomPattern.MatchString(room) {
		return "", fmt.Errorf("%q: %w", code, ErrInvalidRoom)
	}
	return room, nil
}

// Entry is the lobby form.
type Entry struct {
	Room        string
	Role        string
	DisplayName string
	// Script is optional scenario source. Only a Primary may publish one.
	Script     string
	ScriptName string
}

// Ticket is everything the engine needs to join.
type Ticket struct {
	Room        string
	Role        session.Role
	DisplayName string
	Document    *scenario.Document
	// Published is true when this entry compiled and stored the scenario.
	Published bool
}

// Lobby resolves entries against a KV store.
type Lobby struct {
	KV     store.KV
	Syntax compiler.Syntax
	Logger *slog.Logger
}

func (l *Lobby) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Enter validates e and resolves its scenario and display name.
func (l *Lobby) Enter(ctx context.Context, e Entry) (Ticket, error) {
	room, err := NormalizeRoom(e.Room)
	if err != nil {
		return Ticket{}, err
	}
	role, err := session.ParseRole(e.Role)
	if err != nil {
		return Ticket{}, fmt.Errorf("%q: %w", e.Role, ErrInvalidRole)
	}

	name, provided, err := l.resolveName(ctx, room, role, e.DisplayName)
	if err != nil {
		return Ticket{}, err
	}

	t := Ticket{Room: room, Role: role, DisplayName: name}
	if role == session.Primary && strings.TrimSpace(e.Script) != "" {
		t.Document, err = l.publish(ctx, room, e.Script, e.ScriptName)
		t.Published = true
	} else {
		t.Document, err = l.Scenario(ctx, room)
	}
	if err != nil {
		return Ticket{}, err
	}

	if provided {
		l.rememberName(ctx, room, role, name)
	}
	return t, nil
}

// Scenario fetches the cached document for room.
func (l *Lobby) Scenario(ctx context.Context, room string) (*scenario.Document, error) {
	data, err := l.KV.Get(ctx, store.ScenarioKey(room))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("room %s: %w", room, ErrScenarioNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch scenario for %s: %w", room, err)
	}

	var doc scenario.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode scenario for %s: %w", room, err)
	}
	if errs := compiler.Validate(&doc, false); len(errs) > 0 {
		return nil, &compiler.CompileError{Source: store.ScenarioKey(room), Errors: errs}
	}
	return &doc, nil
}

func (l *Lobby) publish(ctx context.Context, room, script, name string) (*scenario.Document, error) {
	if name == "" {
		name = room
	}
	doc, err := compiler.Compile(script, name, compiler.WithSyntax(l.Syntax))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode scenario: %w", err)
	}
	if err := l.KV.Set(ctx, store.ScenarioKey(room), data); err != nil {
		return nil, fmt.Errorf("store scenario for %s: %w", room, err)
	}
	fp, err := scenario.Fingerprint(doc)
	if err != nil {
		l.logger().Warn("fingerprint scenario failed", "room", room, "error", err)
	}
	l.logger().Info("scenario published",
		"room", room,
		"title", doc.Title,
		"scenes", len(doc.Scenes),
		"fingerprint", fp)
	return doc, nil
}

// resolveName returns the given name, or the cached one for (room, role)
// when none was given. provided reports whether the name came from the
// caller.
func (l *Lobby) resolveName(ctx context.Context, room string, role session.Role, given string) (name string, provided bool, err error) {
	if name = strings.TrimSpace(given); name != "" {
		return name, true, nil
	}

	cached, err := l.KV.Get(ctx, store.NameKey(room, role))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", false, fmt.Errorf("fetch display name: %w", err)
	}
	name = strings.TrimSpace(string(cached))
	if name == "" {
		return "", false, ErrMissingName
	}
	return name, false, nil
}

// rememberName caches name for later entries. Best effort.
func (l *Lobby) rememberName(ctx context.Context, room string, role session.Role, name string) {
	if err := l.KV.Set(ctx, store.NameKey(room, role), []byte(name)); err != nil {
		l.logger().Warn("cache display name failed", "room", room, "role", role, "error", err)
	}
}
