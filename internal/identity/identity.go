// Package identity models the tagged identity and subject values the
// authorization core reasons about (spec §3, §4.1), and the host lookups
// (user/group/netgroup database, process start time, bus-name resolution)
// that back their equality and containment semantics.
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// Kind discriminates the identity variants of spec §3.
type Kind int

const (
	// KindUnixUser identifies a single user, by uid or name.
	KindUnixUser Kind = iota
	// KindUnixGroup identifies every member of a unix group, by gid or name.
	KindUnixGroup
	// KindUnixNetgroup identifies every member of a netgroup, by name.
	KindUnixNetgroup
)

// Identity is a tagged value identifying a user, group or netgroup (spec §3).
// The zero value is not a valid Identity; construct one with Parse or the
// NewUnixUser/NewUnixGroup/NewUnixNetgroup helpers.
type Identity struct {
	kind  Kind
	name  string // canonical name-or-numeric-id string, as given
	valid bool
}

// NewUnixUser returns an Identity naming a single user.
func NewUnixUser(nameOrUID string) Identity {
	return Identity{kind: KindUnixUser, name: nameOrUID, valid: true}
}

// NewUnixGroup returns an Identity naming every member of a group.
func NewUnixGroup(nameOrGID string) Identity {
	return Identity{kind: KindUnixGroup, name: nameOrGID, valid: true}
}

// NewUnixNetgroup returns an Identity naming every member of a netgroup.
func NewUnixNetgroup(name string) Identity {
	return Identity{kind: KindUnixNetgroup, name: name, valid: true}
}

// Kind returns the identity's variant.
func (id Identity) Kind() Kind { return id.kind }

// Name returns the raw name-or-id the identity was constructed with.
func (id Identity) Name() string { return id.name }

// Valid reports whether id was constructed through one of the exported
// constructors (as opposed to being a zero value).
func (id Identity) Valid() bool { return id.valid }

// String renders the canonical serialization: "unix-user:<name-or-uid>",
// "unix-group:<name-or-gid>", "unix-netgroup:<name>". Round-trips through
// Parse.
func (id Identity) String() string {
	switch id.kind {
	case KindUnixUser:
		return "unix-user:" + id.name
	case KindUnixGroup:
		return "unix-group:" + id.name
	case KindUnixNetgroup:
		return "unix-netgroup:" + id.name
	default:
		return ""
	}
}

// Equal compares two identities by canonical serialization.
func (id Identity) Equal(other Identity) bool {
	return id.valid && other.valid && id.String() == other.String()
}

// Parse parses the canonical "kind:name" serialization produced by String.
func Parse(s string) (Identity, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Identity{}, polkiterr.New(polkiterr.KindInvalidRequest,
			fmt.Sprintf(i18n.G("malformed identity string %q"), s))
	}
	switch parts[0] {
	case "unix-user":
		return NewUnixUser(parts[1]), nil
	case "unix-group":
		return NewUnixGroup(parts[1]), nil
	case "unix-netgroup":
		return NewUnixNetgroup(parts[1]), nil
	default:
		return Identity{}, polkiterr.New(polkiterr.KindInvalidRequest,
			fmt.Sprintf(i18n.G("unknown identity kind %q"), parts[0]))
	}
}

// isNumeric reports whether s looks like a bare numeric id.
func isNumeric(s string) bool {
	_, err := strconv.ParseUint(s, 10, 32)
	return err == nil
}
