package authstore_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct{ names map[uint32]string }

func (f fakeDB) LookupUser(nameOrUID string) (*identity.UserRecord, error) {
	for uid, name := range f.names {
		if fmt.Sprintf("%d", uid) == nameOrUID || name == nameOrUID {
			return &identity.UserRecord{UID: uid, Name: name}, nil
		}
	}
	return nil, fmt.Errorf("no such user %q", nameOrUID)
}
func (fakeDB) LookupGroupMembers(string) ([]uint32, error)  { return nil, nil }
func (fakeDB) InNetgroup(string, string) (bool, error)       { return false, nil }

func newTestStore(t *testing.T, live authstore.ProcessLiveFunc) *authstore.Store {
	t.Helper()
	runDir := filepath.Join(t.TempDir(), "run")
	libDir := filepath.Join(t.TempDir(), "lib")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	db := fakeDB{names: map[uint32]string{0: "root", 1000: "alice", 500: "bob"}}
	return authstore.New(runDir, libDir, db, live, nil)
}

func TestAddAlwaysAndEnumerate(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.AddAlways("org.example.frob", 1000, authstore.SessionState{Exists: true, IsLocal: true, IsActive: true}))

	var seen []authstore.Record
	require.NoError(t, s.ForeachForUID(1000, func(r authstore.Record) bool {
		seen = append(seen, r)
		return true
	}))
	require.Len(t, seen, 1)
	assert.Equal(t, "org.example.frob", seen[0].ActionID)
	assert.Equal(t, authstore.ScopeAlways, seen[0].Scope)
	assert.Equal(t, authstore.ConstraintLocalActive, seen[0].Constraint)
}

func TestProcessRecordRelevanceFollowsLiveness(t *testing.T) {
	live := func(pid int32) (uint64, error) {
		if pid == 42 {
			return 99, nil
		}
		return 0, fmt.Errorf("no such process")
	}
	s := newTestStore(t, live)
	require.NoError(t, s.AddProcess("org.example.frob", 42, 99, 1000, authstore.SessionState{}, false))

	var seen []authstore.Record
	require.NoError(t, s.ForeachForUID(1000, func(r authstore.Record) bool {
		seen = append(seen, r)
		return true
	}))
	assert.Len(t, seen, 1, "live pid's record should be relevant")
}

func TestDeadProcessRecordIsLogicallyFiltered(t *testing.T) {
	live := func(pid int32) (uint64, error) { return 0, fmt.Errorf("no such process") }
	s := newTestStore(t, live)
	require.NoError(t, s.AddProcess("org.example.frob", 42, 99, 1000, authstore.SessionState{}, false))

	var seen []authstore.Record
	require.NoError(t, s.ForeachForUID(1000, func(r authstore.Record) bool {
		seen = append(seen, r)
		return true
	}))
	assert.Empty(t, seen, "dead pid's record must not be reported as relevant")
}

func TestOneShotConsumptionRetires(t *testing.T) {
	s := newTestStore(t, func(int32) (uint64, error) { return 1, nil })
	require.NoError(t, s.AddProcess("org.example.frob", 7, 1, 1000, authstore.SessionState{}, true))

	decision, err := s.Evaluate(1000, "org.example.frob", authstore.SessionState{})
	require.NoError(t, err)
	require.NotNil(t, decision.Consumed)
	require.NoError(t, s.RetireOneShot(1000, *decision.Consumed))

	decision, err = s.Evaluate(1000, "org.example.frob", authstore.SessionState{})
	require.NoError(t, err)
	assert.False(t, decision.Positive)
	assert.Nil(t, decision.Consumed)
}

func TestNegativeOverridesPositiveAndIterationIsComplete(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.AddAlways("org.example.x", 500, authstore.SessionState{}))
	require.NoError(t, s.GrantExplicit(0, 500, "org.example.x", authstore.ScopeAlways, authstore.ConstraintNone, true, true))

	decision, err := s.Evaluate(500, "org.example.x", authstore.SessionState{})
	require.NoError(t, err)
	assert.True(t, decision.Negative)
	assert.True(t, decision.Positive, "iteration must not short-circuit: the positive record is still observed")
}

func TestGrantExplicitRequiresMetaAuthorizationForOtherUID(t *testing.T) {
	s := newTestStore(t, nil)
	err := s.GrantExplicit(1000, 500, "org.example.x", authstore.ScopeAlways, authstore.ConstraintNone, false, false)
	assert.Error(t, err)

	err = s.GrantExplicit(1000, 500, "org.example.x", authstore.ScopeAlways, authstore.ConstraintNone, false, true)
	assert.NoError(t, err)
}

func TestRevokeRemovesOnlyMatchingRecord(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.AddAlways("org.example.a", 1000, authstore.SessionState{}))
	require.NoError(t, s.AddAlways("org.example.b", 1000, authstore.SessionState{}))

	var all []authstore.Record
	require.NoError(t, s.ForeachForUID(1000, func(r authstore.Record) bool {
		all = append(all, r)
		return true
	}))
	require.Len(t, all, 2)

	var toRevoke authstore.Record
	for _, r := range all {
		if r.ActionID == "org.example.a" {
			toRevoke = r
		}
	}
	require.NoError(t, s.Revoke(1000, toRevoke))

	var remaining []authstore.Record
	require.NoError(t, s.ForeachForUID(1000, func(r authstore.Record) bool {
		remaining = append(remaining, r)
		return true
	}))
	require.Len(t, remaining, 1)
	assert.Equal(t, "org.example.b", remaining[0].ActionID)
}
