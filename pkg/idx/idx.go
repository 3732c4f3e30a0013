// Package idx generates sortable identifiers for requests and ceremonies.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID, optionally carrying a short type prefix ("req_", "wac_").
type ID string

// Zero represents the zero value ID.
const Zero ID = ""

// Prefixes used across the SDK.
const (
	PrefixRequest  = "req"
	PrefixCeremony = "wac"
	PrefixLogin    = "lgn"
)

// ErrInvalid reports a malformed identifier.
var ErrInvalid = errors.New("idx: invalid id")

var (
	globalOnce sync.Once
	global     *generator
)

// generator hands out ULIDs from a monotonic source so ids minted in the same
// millisecond still sort in creation order.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) at(t time.Time) ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), g.entropy)
}

func initGlobal() {
	global = &generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a fresh ID for the current time.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt generates an ID at the provided time.
func NewAt(t time.Time) ID {
	globalOnce.Do(initGlobal)
	return ID(global.at(t.UTC()).String())
}

// NewWithPrefix returns a fresh ID of the form "<prefix>_<ulid>".
func NewWithPrefix(prefix string) ID {
	return ID(prefix + "_" + string(New()))
}

// NewRequestID returns an id for an outbound HTTP request.
func NewRequestID() ID { return NewWithPrefix(PrefixRequest) }

// NewCeremonyID returns an id for a WebAuthn ceremony.
func NewCeremonyID() ID { return NewWithPrefix(PrefixCeremony) }

// NewLoginID returns an id for a pending browser login.
func NewLoginID() ID { return NewWithPrefix(PrefixLogin) }

// Parse validates s, with or without a prefix.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}

	raw := s
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		raw = s[i+1:]
	}
	if _, err := ulid.ParseStrict(raw); err != nil {
		return Zero, ErrInvalid
	}

	return ID(s), nil
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == Zero }

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// Prefix returns the type prefix or "" when there is none.
func (id ID) Prefix() string {
	if i := strings.LastIndexByte(string(id), '_'); i >= 0 {
		return string(id)[:i]
	}
	return ""
}

// Time extracts the embedded UTC timestamp. Invalid ids yield the zero time.
func (id ID) Time() time.Time {
	raw := string(id)
	if p := id.Prefix(); p != "" {
		raw = raw[len(p)+1:]
	}

	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
