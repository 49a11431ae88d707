package decision_test

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/polkit-go/polkitd/internal/action"
	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/decision"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	state authstore.SessionState
}

func (f fakeTracker) StateFor(identity.Subject) (authstore.SessionState, error) { return f.state, nil }
func (f fakeTracker) OwnerUID(identity.Subject) (uint32, error)                 { return 0, fmt.Errorf("not a session subject") }

type fakeIssuer struct {
	cookie string
	err    error
}

func (f fakeIssuer) Start(identity.Subject, string, uint32, authstore.Scope, bool, map[string]string) (string, error) {
	return f.cookie, f.err
}

type fakeDB struct{ names map[uint32]string }

func (f fakeDB) LookupUser(nameOrUID string) (*identity.UserRecord, error) {
	for uid, name := range f.names {
		if fmt.Sprintf("%d", uid) == nameOrUID {
			return &identity.UserRecord{UID: uid, Name: name}, nil
		}
	}
	return nil, fmt.Errorf("no such user %q", nameOrUID)
}
func (fakeDB) LookupGroupMembers(string) ([]uint32, error) { return nil, nil }
func (fakeDB) InNetgroup(string, string) (bool, error)     { return false, nil }

func writeActionFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newEngine(t *testing.T, actionsYAML string, state authstore.SessionState, issuer decision.SessionIssuer) *decision.Engine {
	t.Helper()
	actDir := t.TempDir()
	writeActionFile(t, actDir, "test.policy.yaml", actionsYAML)
	reg, errs := action.Load(actDir)
	require.Empty(t, errs)

	runDir := filepath.Join(t.TempDir(), "run")
	libDir := filepath.Join(t.TempDir(), "lib")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.MkdirAll(libDir, 0o755))

	db := fakeDB{names: map[uint32]string{500: "alice", 0: "root"}}
	store := authstore.New(runDir, libDir, db, func(int32) (uint64, error) { return 42, nil }, nil)

	return &decision.Engine{
		Registry: reg,
		Rules:    &rules.Store{},
		Store:    store,
		DB:       db,
		Tracker:  fakeTracker{state: state},
		Sessions: issuer,
	}
}

func TestImplicitAllow(t *testing.T) {
	e := newEngine(t, `
actions:
  - id: org.example.noop
    description: noop
    message: noop
    implicitAny: authorized
`, authstore.SessionState{}, fakeIssuer{})

	result, err := e.Check(mustSubject(t, 500), "org.example.noop", nil, false)
	require.NoError(t, err)
	assert.True(t, result.IsAuthorized)
}

func TestChallengeWithoutInteraction(t *testing.T) {
	e := newEngine(t, `
actions:
  - id: org.example.write
    description: write
    message: write
    implicitActive: authentication-required
`, authstore.SessionState{Exists: true, IsLocal: true, IsActive: true}, fakeIssuer{})

	result, err := e.Check(mustSubject(t, 500), "org.example.write", nil, false)
	require.NoError(t, err)
	assert.True(t, result.IsChallenge)
	assert.False(t, result.IsAuthorized)
}

func TestChallengeWithInteractionIssuesCookie(t *testing.T) {
	e := newEngine(t, `
actions:
  - id: org.example.write
    description: write
    message: write
    implicitActive: authentication-required-retained
`, authstore.SessionState{Exists: true, IsLocal: true, IsActive: true}, fakeIssuer{cookie: "cookie-123"})

	result, err := e.Check(mustSubject(t, 500), "org.example.write", nil, true)
	require.NoError(t, err)
	assert.True(t, result.IsChallenge)
	assert.Equal(t, "cookie-123", result.Cookie)
}

func TestNegativeExplicitOverridesPositive(t *testing.T) {
	e := newEngine(t, `
actions:
  - id: org.example.x
    description: x
    message: x
    implicitAny: not-authorized
`, authstore.SessionState{}, fakeIssuer{})

	require.NoError(t, e.Store.AddAlways("org.example.x", 500, authstore.SessionState{}))
	require.NoError(t, e.Store.GrantExplicit(0, 500, "org.example.x", authstore.ScopeAlways, authstore.ConstraintNone, true, true))

	result, err := e.Check(mustSubject(t, 500), "org.example.x", nil, false)
	require.NoError(t, err)
	assert.False(t, result.IsAuthorized)
}

func TestUnknownActionIsNotAuthorized(t *testing.T) {
	e := newEngine(t, `actions: []`, authstore.SessionState{}, fakeIssuer{})
	result, err := e.Check(mustSubject(t, 500), "org.example.missing", nil, false)
	require.NoError(t, err)
	assert.False(t, result.IsAuthorized)
	assert.False(t, result.IsChallenge)
}

func mustSubject(t *testing.T, uid uint32) identity.Subject {
	t.Helper()
	return identity.NewBusName(":1.1", 1234, uid, 99)
}
