package identity

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// UserRecord is the subset of host user-database information the engine
// needs: numeric uid, canonical name, and primary+supplementary group ids.
type UserRecord struct {
	UID      uint32
	Name     string
	GIDs     []uint32
	GroupIDs []string // supplementary group names, when resolvable
}

// Database is the seam over the host's user/group/netgroup database. A
// default implementation backed by os/user is provided by
// NewOSDatabase; callers may inject one of their own (e.g. for tests, or a
// host with /etc/netgroup support wired through cgo).
type Database interface {
	// LookupUser resolves a uid or user name to a UserRecord.
	LookupUser(nameOrUID string) (*UserRecord, error)
	// LookupGroupMembers resolves a gid or group name to member uids.
	LookupGroupMembers(nameOrGID string) ([]uint32, error)
	// InNetgroup reports whether user is a member of netgroup on this host.
	// Per spec §9(c) this is delegated to the host and not re-specified;
	// the default database returns an Internal error.
	InNetgroup(user, netgroup string) (bool, error)
}

// osDatabase is the default Database, backed by os/user.
type osDatabase struct{}

// NewOSDatabase returns the default host-backed Database.
func NewOSDatabase() Database { return osDatabase{} }

func (osDatabase) LookupUser(nameOrUID string) (*UserRecord, error) {
	var u *user.User
	var err error
	if isNumeric(nameOrUID) {
		u, err = user.LookupId(nameOrUID)
	} else {
		u, err = user.Lookup(nameOrUID)
	}
	if err != nil {
		return nil, polkiterr.Wrap(polkiterr.KindNoSuchSubject,
			fmt.Sprintf(i18n.G("no such user %q"), nameOrUID), err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, polkiterr.Wrap(polkiterr.KindInternal,
			fmt.Sprintf(i18n.G("invalid uid %q for user %q"), u.Uid, nameOrUID), err)
	}
	gids, _ := u.GroupIds()
	rec := &UserRecord{UID: uint32(uid), Name: u.Username, GroupIDs: gids}
	for _, g := range gids {
		if n, err := strconv.ParseUint(g, 10, 32); err == nil {
			rec.GIDs = append(rec.GIDs, uint32(n))
		}
	}
	return rec, nil
}

func (osDatabase) LookupGroupMembers(nameOrGID string) ([]uint32, error) {
	var g *user.Group
	var err error
	if isNumeric(nameOrGID) {
		g, err = user.LookupGroupId(nameOrGID)
	} else {
		g, err = user.LookupGroup(nameOrGID)
	}
	if err != nil {
		return nil, polkiterr.Wrap(polkiterr.KindNoSuchSubject,
			fmt.Sprintf(i18n.G("no such group %q"), nameOrGID), err)
	}
	// os/user does not expose group membership enumeration portably;
	// callers needing full membership resolution should inject a
	// platform-specific Database. We can still confirm the group exists
	// and resolve a caller's own membership via LookupUser's GroupIDs.
	_ = g
	return nil, polkiterr.New(polkiterr.KindInternal,
		i18n.G("group member enumeration requires a platform-specific identity database"))
}

func (osDatabase) InNetgroup(user, netgroup string) (bool, error) {
	return false, polkiterr.New(polkiterr.KindInternal,
		i18n.G("netgroup membership is delegated to the host and not implemented by the default database"))
}

// Contains answers whether subjectUID is a member of the group/netgroup
// identity id names (spec §4.1 "contains(identity, subject)"). For a
// unix-user identity this is plain uid/name equality.
func Contains(db Database, id Identity, subjectUID uint32, subjectUserName string) (bool, error) {
	switch id.Kind() {
	case KindUnixUser:
		if isNumeric(id.Name()) {
			uid, _ := strconv.ParseUint(id.Name(), 10, 32)
			return uint32(uid) == subjectUID, nil
		}
		return id.Name() == subjectUserName, nil
	case KindUnixGroup:
		members, err := db.LookupGroupMembers(id.Name())
		if err != nil {
			return false, err
		}
		for _, uid := range members {
			if uid == subjectUID {
				return true, nil
			}
		}
		return false, nil
	case KindUnixNetgroup:
		return db.InNetgroup(subjectUserName, id.Name())
	default:
		return false, polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("identity has no recognized kind"))
	}
}
