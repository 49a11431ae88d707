package helper_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/helper"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct{}

func (fakeDB) LookupUser(nameOrUID string) (*identity.UserRecord, error) {
	switch nameOrUID {
	case "500", "alice":
		return &identity.UserRecord{UID: 500, Name: "alice"}, nil
	case "600", "bob":
		return &identity.UserRecord{UID: 600, Name: "bob"}, nil
	}
	return nil, os.ErrNotExist
}
func (fakeDB) LookupGroupMembers(string) ([]uint32, error) { return nil, nil }
func (fakeDB) InNetgroup(string, string) (bool, error)     { return false, nil }

type fakeChecker struct{ authorized bool }

func (f fakeChecker) IsAuthorized(identity.Subject, string, map[string]string) (bool, error) {
	return f.authorized, nil
}

func newTestStore(t *testing.T) *authstore.Store {
	t.Helper()
	runDir := filepath.Join(t.TempDir(), "run")
	libDir := filepath.Join(t.TempDir(), "lib")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	return authstore.New(runDir, libDir, fakeDB{}, func(int32) (uint64, error) { return 1, nil }, nil)
}

func mustCallerSubject() identity.Subject {
	return identity.NewBusName(":1.1", 100, 500, 1)
}

func TestGrantSelfNegativeNeedsNoMetaAuth(t *testing.T) {
	store := newTestStore(t)
	g := &helper.GrantHelper{Store: store, Checker: fakeChecker{authorized: false}}

	err := g.Grant(mustCallerSubject(), 500, 500, "org.example.x", authstore.ScopeAlways, authstore.ConstraintNone, true)
	require.NoError(t, err)
}

func TestGrantOthersRequiresMetaAuth(t *testing.T) {
	store := newTestStore(t)
	g := &helper.GrantHelper{Store: store, Checker: fakeChecker{authorized: false}}

	err := g.Grant(mustCallerSubject(), 500, 600, "org.example.x", authstore.ScopeAlways, authstore.ConstraintNone, true)
	assert.Error(t, err)
}

func TestGrantOthersSucceedsWithMetaAuth(t *testing.T) {
	store := newTestStore(t)
	g := &helper.GrantHelper{Store: store, Checker: fakeChecker{authorized: true}}

	err := g.Grant(mustCallerSubject(), 500, 600, "org.example.x", authstore.ScopeAlways, authstore.ConstraintNone, true)
	require.NoError(t, err)
}

func TestRevokeRequiresMetaAuthForOthers(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddAlways("org.example.x", 600, authstore.SessionState{}))

	var rec authstore.Record
	require.NoError(t, store.ForeachForUID(600, func(r authstore.Record) bool {
		rec = r
		return false
	}))

	g := &helper.GrantHelper{Store: store, Checker: fakeChecker{authorized: false}}
	err := g.Revoke(mustCallerSubject(), 500, 600, rec)
	assert.Error(t, err)
}
