package authsession_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/polkit-go/polkitd/internal/authsession"
	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct{ names map[string]identity.UserRecord }

func (f fakeDB) LookupUser(nameOrUID string) (*identity.UserRecord, error) {
	if rec, ok := f.names[nameOrUID]; ok {
		return &rec, nil
	}
	for _, rec := range f.names {
		if fmt.Sprintf("%d", rec.UID) == nameOrUID {
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("no such user %q", nameOrUID)
}
func (fakeDB) LookupGroupMembers(g string) ([]uint32, error) {
	if g == "admins" {
		return []uint32{0, 1001}, nil
	}
	return nil, nil
}
func (fakeDB) InNetgroup(string, string) (bool, error) { return false, nil }

type fakeNotifier struct {
	lastCookie      string
	lastCandidates  []identity.Identity
	fail            bool
}

func (f *fakeNotifier) NotifyNewSession(cookie string, subject identity.Subject, actionID string, details map[string]string, candidates []identity.Identity) error {
	if f.fail {
		return fmt.Errorf("no agent registered")
	}
	f.lastCookie = cookie
	f.lastCandidates = candidates
	return nil
}

type fakeTracker struct{ state authstore.SessionState }

func (f fakeTracker) StateFor(identity.Subject) (authstore.SessionState, error) { return f.state, nil }

// SessionIDFor lets fakeTracker also stand in as the session resolver, so a
// session-scoped grant for a bus-name subject has a session to attach to.
func (f fakeTracker) SessionIDFor(identity.Subject) (string, error) { return "s1", nil }

func newTestManager(t *testing.T, notifier *fakeNotifier, admin authsession.AdminConfig) (*authsession.Manager, *authstore.Store, fakeDB) {
	t.Helper()
	runDir := filepath.Join(t.TempDir(), "run")
	libDir := filepath.Join(t.TempDir(), "lib")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.MkdirAll(libDir, 0o755))

	db := fakeDB{names: map[string]identity.UserRecord{
		"alice": {UID: 1000, Name: "alice"},
		"bob":   {UID: 1001, Name: "bob"},
		"root":  {UID: 0, Name: "root"},
	}}
	store := authstore.New(runDir, libDir, db, func(int32) (uint64, error) { return 1, nil }, func(string) bool { return true })
	mgr := authsession.NewManager(store, notifier, fakeTracker{}, fakeTracker{}, admin, db)
	return mgr, store, db
}

func mustSubject() identity.Subject {
	return identity.NewBusName(":1.1", 4242, 1000, 1)
}

func TestStartNotifiesAgentAndReturnsCookie(t *testing.T) {
	n := &fakeNotifier{}
	mgr, _, _ := newTestManager(t, n, authsession.AdminConfig{})

	cookie, err := mgr.Start(mustSubject(), "org.example.x", 1000, authstore.ScopeProcessOneShot, false, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, cookie)
	assert.Equal(t, cookie, n.lastCookie)
}

func TestStartFailsWhenNoAgentRegistered(t *testing.T) {
	n := &fakeNotifier{fail: true}
	mgr, _, _ := newTestManager(t, n, authsession.AdminConfig{})

	_, err := mgr.Start(mustSubject(), "org.example.x", 1000, authstore.ScopeProcessOneShot, false, nil)
	assert.Error(t, err)
}

func TestAuthenticationAgentResponseCommitsGrant(t *testing.T) {
	n := &fakeNotifier{}
	mgr, store, _ := newTestManager(t, n, authsession.AdminConfig{})

	cookie, err := mgr.Start(mustSubject(), "org.example.x", 1000, authstore.ScopeSession, false, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.AuthenticationAgentResponse(cookie, identity.NewUnixUser("alice"), false))

	var seen []authstore.Record
	require.NoError(t, store.ForeachForUID(1000, func(r authstore.Record) bool {
		seen = append(seen, r)
		return true
	}))
	require.Len(t, seen, 1)
	assert.Equal(t, uint32(1000), seen[0].AuthorizingUID)
}

func TestUnknownCookieIsRejected(t *testing.T) {
	n := &fakeNotifier{}
	mgr, _, _ := newTestManager(t, n, authsession.AdminConfig{})
	err := mgr.AuthenticationAgentResponse("no-such-cookie", identity.NewUnixUser("alice"), false)
	assert.Error(t, err)
}

func TestAdminCandidatesExcludeRootAndDeduplicate(t *testing.T) {
	n := &fakeNotifier{}
	mgr, _, _ := newTestManager(t, n, authsession.AdminConfig{Users: []string{"bob"}, Groups: []string{"admins"}})

	_, err := mgr.Start(mustSubject(), "org.example.admin", 1000, authstore.ScopeAlways, true, nil)
	require.NoError(t, err)
	require.Len(t, n.lastCandidates, 1, "root must be excluded and bob de-duplicated across Users and Groups")
	assert.Equal(t, "unix-user:bob", n.lastCandidates[0].String())
}

func TestNonAdminCandidateRejectedForAdminRequiredSession(t *testing.T) {
	n := &fakeNotifier{}
	mgr, _, _ := newTestManager(t, n, authsession.AdminConfig{Groups: []string{"admins"}})

	cookie, err := mgr.Start(mustSubject(), "org.example.admin", 1000, authstore.ScopeAlways, true, nil)
	require.NoError(t, err)

	err = mgr.AuthenticationAgentResponse(cookie, identity.NewUnixUser("alice"), false)
	assert.Error(t, err, "alice is not in the admins group and must be rejected")
}

func TestScopeOverrideRejectsUpgrade(t *testing.T) {
	n := &fakeNotifier{}
	mgr, _, _ := newTestManager(t, n, authsession.AdminConfig{})

	cookie, err := mgr.Start(mustSubject(), "org.example.x", 1000, authstore.ScopeSession, false, nil)
	require.NoError(t, err)

	err = mgr.RequestScopeOverride(cookie, authstore.ScopeAlways)
	assert.Error(t, err)

	err = mgr.AuthenticationAgentResponse(cookie, identity.NewUnixUser("alice"), false)
	assert.Error(t, err, "a session failed by a rejected scope upgrade must not still commit")
}

func TestScopeOverrideAcceptsDowngrade(t *testing.T) {
	n := &fakeNotifier{}
	mgr, store, _ := newTestManager(t, n, authsession.AdminConfig{})

	cookie, err := mgr.Start(mustSubject(), "org.example.x", 1000, authstore.ScopeAlways, false, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.RequestScopeOverride(cookie, authstore.ScopeSession))
	require.NoError(t, mgr.AuthenticationAgentResponse(cookie, identity.NewUnixUser("alice"), false))

	var seen []authstore.Record
	require.NoError(t, store.ForeachForUID(1000, func(r authstore.Record) bool {
		seen = append(seen, r)
		return true
	}))
	require.Len(t, seen, 1)
	assert.Equal(t, authstore.ScopeSession, seen[0].Scope)
}

func TestEmptyConversationAutoDowngradesOneStep(t *testing.T) {
	n := &fakeNotifier{}
	mgr, store, _ := newTestManager(t, n, authsession.AdminConfig{})

	cookie, err := mgr.Start(mustSubject(), "org.example.x", 1000, authstore.ScopeAlways, false, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.AuthenticationAgentResponse(cookie, identity.NewUnixUser("alice"), true))

	var seen []authstore.Record
	require.NoError(t, store.ForeachForUID(1000, func(r authstore.Record) bool {
		seen = append(seen, r)
		return true
	}))
	require.Len(t, seen, 1)
	assert.Equal(t, authstore.ScopeSession, seen[0].Scope, "always must auto-downgrade to session on a silent success")
}
