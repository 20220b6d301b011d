// Package peer defines the identity and message values shared by every other package.
package peer

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

var ErrEmptyID = errors.New("peer id must not be empty")

// ID identifies a peer. It is an immutable value that can be compared with ==
// and used as a map key.
type ID struct {
	id string
}

// New returns a freshly generated random ID.
func New() ID {
	return ID{id: uuid.NewString()}
}

// FromString wraps an existing identifier, as advertised by a discovery source.
func FromString(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, ErrEmptyID
	}
	return ID{id: s}, nil
}

// MustFromString is like FromString but panics on an invalid identifier.
func MustFromString(s string) ID {
	id, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (p ID) String() string {
	return p.id
}

// Short returns the first eight characters of the identifier, for display.
func (p ID) Short() string {
	if len(p.id) <= 8 {
		return p.id
	}
	return p.id[:8]
}

func (p ID) IsZero() bool {
	return p.id == ""
}

// Compare orders identifiers for display.
func (p ID) Compare(other ID) int {
	return strings.Compare(p.id, other.id)
}

// Sort orders ids in place for display.
func Sort(ids []ID) {
	slices.SortFunc(ids, func(a, b ID) int { return a.Compare(b) })
}

// MarshalText implements encoding.TextMarshaler.
func (p ID) MarshalText() ([]byte, error) {
	return []byte(p.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ID) UnmarshalText(b []byte) error {
	id, err := FromString(string(b))
	if err != nil {
		return err
	}
	*p = id
	return nil
}
