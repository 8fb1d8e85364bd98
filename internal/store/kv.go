package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/duet/internal/session"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: not found")

// KV is an opaque get/set blob store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Backend is a KV that holds resources.
type Backend interface {
	KV
	io.Closer
}

// Driver names accepted by OpenBackend.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverRemote = "remote"
	DriverMemory = "memory"
)

// OpenBackend opens the named driver. target is a file path for sqlite
// and bolt, a base URL for remote, and ignored for memory.
func OpenBackend(driver, target string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		return OpenSQLite(target)
	case DriverBolt:
		return OpenBolt(target)
	case DriverRemote:
		return NewRemote(target, nil)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

const keyPrefix = "duet"

// ScenarioKey is the key of a room's compiled scenario.
func ScenarioKey(room string) string {
	return keyPrefix + "/scenario/" + strings.ToUpper(room)
}

// NameKey is the key of the display name last used for role in room.
func NameKey(room string, role session.Role) string {
	return keyPrefix + "/name/" + strings.ToUpper(room) + "/" + string(role)
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("store key is required")
	}
	return nil
}
