// Package identity provides node network identity management.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// IDSize is the size of a NetworkID in bytes (RFC 4122 UUID)
	IDSize = 16

	// idFileName is the name of the file storing the node's network ID
	idFileName = "network_id"
)

var (
	// ErrInvalidID is returned when a network ID cannot be parsed
	ErrInvalidID = errors.New("invalid network ID")

	// ErrNotFound is returned by Load when no ID has been persisted yet
	ErrNotFound = errors.New("network ID not found")

	// ZeroID represents an uninitialized network ID
	ZeroID = NetworkID{}
)

// NetworkID is the 128-bit UUID identifying a logical node on the network.
// The same ID appears in the node's certificate SAN (urn:uuid form) and in
// its protocol handshake; it is stable across restarts and connections.
type NetworkID [IDSize]byte

// NewNetworkID generates a new random (version 4) NetworkID.
func NewNetworkID() (NetworkID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return ZeroID, fmt.Errorf("failed to generate network ID: %w", err)
	}
	return NetworkID(u), nil
}

// ParseNetworkID parses a NetworkID from its canonical UUID string form.
// The urn:uuid: prefix and surrounding whitespace are accepted.
func ParseNetworkID(s string) (NetworkID, error) {
	s = strings.TrimSpace(s)
	u, err := uuid.Parse(s)
	if err != nil {
		return ZeroID, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return NetworkID(u), nil
}

// FromBytes creates a NetworkID from a 16-byte slice in RFC 4122 order.
func FromBytes(b []byte) (NetworkID, error) {
	if len(b) != IDSize {
		return ZeroID, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidID, len(b), IDSize)
	}
	var id NetworkID
	copy(id[:], b)
	return id, nil
}

// String returns the canonical UUID representation.
func (id NetworkID) String() string {
	return uuid.UUID(id).String()
}

// URN returns the urn:uuid form used in certificate SAN URIs.
func (id NetworkID) URN() string {
	return uuid.UUID(id).URN()
}

// ShortString returns the first UUID group (8 hex chars) for log output.
func (id NetworkID) ShortString() string {
	return id.String()[:8]
}

// Bytes returns the NetworkID in RFC 4122 byte order.
func (id NetworkID) Bytes() []byte {
	return id[:]
}

// IsZero returns true if the NetworkID is uninitialized.
func (id NetworkID) IsZero() bool {
	return id == ZeroID
}

// Equal returns true if two NetworkIDs are identical.
func (id NetworkID) Equal(other NetworkID) bool {
	return id == other
}

// MarshalText implements encoding.TextMarshaler.
func (id NetworkID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NetworkID) UnmarshalText(text []byte) error {
	parsed, err := ParseNetworkID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Store persists the NetworkID to the specified data directory.
func (id NetworkID) Store(dataDir string) error {
	if id.IsZero() {
		return errors.New("cannot store zero network ID")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Temp file plus rename keeps a crash from leaving a torn ID behind.
	path := idPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write network ID: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to persist network ID: %w", err)
	}

	return nil
}

// Load reads a NetworkID from the specified data directory. It returns an
// error wrapping ErrNotFound when no ID has been stored there yet.
func Load(dataDir string) (NetworkID, error) {
	data, err := os.ReadFile(idPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return ZeroID, fmt.Errorf("%w in %s", ErrNotFound, dataDir)
		}
		return ZeroID, fmt.Errorf("failed to read network ID: %w", err)
	}

	return ParseNetworkID(string(data))
}

// LoadOrCreate loads an existing NetworkID from the data directory,
// or creates and persists a new one if none exists.
// The returned bool is true when a new ID was generated.
func LoadOrCreate(dataDir string) (NetworkID, bool, error) {
	id, err := Load(dataDir)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ZeroID, false, err
	}

	id, err = NewNetworkID()
	if err != nil {
		return ZeroID, false, err
	}

	if err := id.Store(dataDir); err != nil {
		return ZeroID, false, err
	}

	return id, true, nil
}

// Exists checks if a NetworkID file exists in the data directory.
func Exists(dataDir string) bool {
	_, err := os.Stat(idPath(dataDir))
	return err == nil
}

func idPath(dataDir string) string {
	return filepath.Join(dataDir, idFileName)
}
