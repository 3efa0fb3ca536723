package identity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewNetworkID(t *testing.T) {
	id1, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	if id1.IsZero() {
		t.Error("NewNetworkID() returned zero ID")
	}

	// Generate another ID and verify they're different
	id2, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	if id1.Equal(id2) {
		t.Error("NewNetworkID() returned duplicate IDs")
	}
}

func TestNetworkID_String(t *testing.T) {
	id, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	s := id.String()
	if len(s) != 36 { // 8-4-4-4-12 canonical form
		t.Errorf("String() length = %d, want 36", len(s))
	}
	if strings.Count(s, "-") != 4 {
		t.Errorf("String() = %s, want canonical UUID form", s)
	}
}

func TestNetworkID_URN(t *testing.T) {
	id, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	urn := id.URN()
	if !strings.HasPrefix(urn, "urn:uuid:") {
		t.Errorf("URN() = %s, want urn:uuid: prefix", urn)
	}
	if urn != "urn:uuid:"+id.String() {
		t.Errorf("URN() = %s, want urn:uuid:%s", urn, id.String())
	}
}

func TestNetworkID_ShortString(t *testing.T) {
	id, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	s := id.ShortString()
	if len(s) != 8 {
		t.Errorf("ShortString() length = %d, want 8", len(s))
	}

	full := id.String()
	if s != full[:8] {
		t.Errorf("ShortString() = %s, want prefix of %s", s, full)
	}
}

func TestParseNetworkID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "canonical form",
			input:   "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			wantErr: false,
		},
		{
			name:    "urn form",
			input:   "urn:uuid:6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			wantErr: false,
		},
		{
			name:    "with whitespace",
			input:   "  6ba7b810-9dad-11d1-80b4-00c04fd430c8  ",
			wantErr: false,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "too short",
			input:   "6ba7b810",
			wantErr: true,
		},
		{
			name:    "non-hex characters",
			input:   "zzzzzzzz-9dad-11d1-80b4-00c04fd430c8",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseNetworkID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseNetworkID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && id.IsZero() {
				t.Error("ParseNetworkID() returned zero ID for valid input")
			}
		})
	}
}

func TestParseNetworkID_RoundTrip(t *testing.T) {
	id, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	parsed, err := ParseNetworkID(id.String())
	if err != nil {
		t.Fatalf("ParseNetworkID() error = %v", err)
	}
	if !parsed.Equal(id) {
		t.Errorf("round trip = %s, want %s", parsed, id)
	}
}

func TestFromBytes(t *testing.T) {
	id, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	got, err := FromBytes(id.Bytes())
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}
	if !got.Equal(id) {
		t.Errorf("FromBytes() = %s, want %s", got, id)
	}

	if _, err := FromBytes([]byte{1, 2, 3}); err == nil {
		t.Error("FromBytes() with short slice, want error")
	}
}

func TestNetworkID_MarshalText(t *testing.T) {
	id, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}

	var decoded NetworkID
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if !decoded.Equal(id) {
		t.Errorf("UnmarshalText() = %s, want %s", decoded, id)
	}
}

func TestStore_Load(t *testing.T) {
	dir := t.TempDir()

	id, err := NewNetworkID()
	if err != nil {
		t.Fatalf("NewNetworkID() error = %v", err)
	}

	if err := id.Store(dir); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.Equal(id) {
		t.Errorf("Load() = %s, want %s", loaded, id)
	}

	// File should be readable only by owner
	info, err := os.Stat(filepath.Join(dir, idFileName))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("identity file mode = %o, want 0600", perm)
	}
}

func TestStore_ZeroID(t *testing.T) {
	if err := ZeroID.Store(t.TempDir()); err == nil {
		t.Error("Store() with zero ID, want error")
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() from empty dir = %v, want ErrNotFound", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, idFileName), []byte("not a uuid\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(dir)
	if err == nil {
		t.Fatal("Load() with corrupt file, want error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("Load() with corrupt file reported ErrNotFound")
	}
}

func TestLoadOrCreate(t *testing.T) {
	dir := t.TempDir()

	// First call creates
	id1, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if !created {
		t.Error("LoadOrCreate() first call, want created = true")
	}
	if !Exists(dir) {
		t.Error("Exists() = false after LoadOrCreate")
	}

	// Second call loads the same ID
	id2, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate() second call error = %v", err)
	}
	if created {
		t.Error("LoadOrCreate() second call, want created = false")
	}
	if !id1.Equal(id2) {
		t.Errorf("LoadOrCreate() = %s, want %s", id2, id1)
	}
}
