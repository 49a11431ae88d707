// Package authsession implements the authentication session state machine
// (spec §4.6): the daemon-side object that issues a cookie for a challenge
// outcome, tracks the scope a successful authentication will be retained
// at, and commits the resulting grant to the authorization store once the
// privileged authentication helper reports success.
package authsession

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// State is a session's position in the spec §4.6 state machine.
type State int

const (
	StateAwaitingAgent State = iota
	StateCompletedSuccess
	StateCompletedFailure
	StateDismissed
)

func (s State) String() string {
	switch s {
	case StateAwaitingAgent:
		return "awaiting-agent"
	case StateCompletedSuccess:
		return "completed-success"
	case StateCompletedFailure:
		return "completed-failure"
	case StateDismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

// AgentNotifier tells the agent registered for subject that a new
// authentication session needs handling. The concrete implementation lives
// with the daemon facade, which owns the bus connection to the agent.
type AgentNotifier interface {
	NotifyNewSession(cookie string, subject identity.Subject, actionID string, details map[string]string, adminCandidates []identity.Identity) error
}

// SessionStater resolves a subject's current session liveness/locality, used
// to compute the constraint recorded alongside a committed grant.
type SessionStater interface {
	StateFor(subject identity.Subject) (authstore.SessionState, error)
}

// SessionResolver resolves the opaque session id a subject belongs to, for
// committing session-scoped grants when the subject itself isn't already a
// unix-session value.
type SessionResolver interface {
	SessionIDFor(subject identity.Subject) (string, error)
}

// AdminConfig names the pool of identities eligible to satisfy an
// administrator-authentication-required outcome (spec §4.6 "Administrator
// identity selection").
type AdminConfig struct {
	Users  []string // explicit admin identities, by name or uid
	Groups []string // groups whose members are also candidates
}

// CandidateIdentities computes the admin candidate list: the configured
// users plus every named group's members, excluding uid 0 (by any name),
// de-duplicated and sorted by name.
func (c AdminConfig) CandidateIdentities(db identity.Database) ([]identity.Identity, error) {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name == "" || name == "root" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, u := range c.Users {
		rec, err := db.LookupUser(u)
		if err != nil {
			continue
		}
		if rec.UID == 0 {
			continue
		}
		add(rec.Name)
	}
	for _, g := range c.Groups {
		members, err := db.LookupGroupMembers(g)
		if err != nil {
			continue
		}
		for _, uid := range members {
			if uid == 0 {
				continue
			}
			rec, err := db.LookupUser(fmt.Sprintf("%d", uid))
			if err != nil {
				continue
			}
			add(rec.Name)
		}
	}

	sort.Strings(names)
	out := make([]identity.Identity, len(names))
	for i, n := range names {
		out[i] = identity.NewUnixUser(n)
	}
	return out, nil
}

// Session is one in-flight or completed authentication session.
type Session struct {
	Cookie          string
	Subject         identity.Subject
	ActionID        string
	UID             uint32
	RequiredScope   authstore.Scope
	EffectiveScope  authstore.Scope
	RequiresAdmin   bool
	Details         map[string]string
	AdminCandidates []identity.Identity
	State           State

	scopeExplicitlySet bool
}

// Manager owns every in-flight session, keyed by cookie.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store     *authstore.Store
	notifier  AgentNotifier
	tracker   SessionStater
	resolver  SessionResolver
	admin     AdminConfig
	db        identity.Database
	newCookie func() string
}

// NewManager builds a Manager. resolver may be nil when every subject this
// daemon instance sees is already a unix-session value (SessionIDFor is only
// consulted as a fallback).
func NewManager(store *authstore.Store, notifier AgentNotifier, tracker SessionStater, resolver SessionResolver, admin AdminConfig, db identity.Database) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		store:     store,
		notifier:  notifier,
		tracker:   tracker,
		resolver:  resolver,
		admin:     admin,
		db:        db,
		newCookie: func() string { return uuid.NewString() },
	}
}

// Start creates a session for a challenge outcome and notifies the
// registered agent (spec §4.6 "initiated" → "awaiting-agent"). It satisfies
// decision.SessionIssuer.
func (m *Manager) Start(subject identity.Subject, actionID string, uid uint32, requiredScope authstore.Scope, requiresAdmin bool, details map[string]string) (string, error) {
	var candidates []identity.Identity
	if requiresAdmin {
		var err error
		candidates, err = m.admin.CandidateIdentities(m.db)
		if err != nil {
			return "", err
		}
	}

	sess := &Session{
		Cookie:          m.newCookie(),
		Subject:         subject,
		ActionID:        actionID,
		UID:             uid,
		RequiredScope:   requiredScope,
		EffectiveScope:  requiredScope,
		RequiresAdmin:   requiresAdmin,
		Details:         details,
		AdminCandidates: candidates,
		State:           StateAwaitingAgent,
	}

	m.mu.Lock()
	m.sessions[sess.Cookie] = sess
	m.mu.Unlock()

	if err := m.notifier.NotifyNewSession(sess.Cookie, subject, actionID, details, candidates); err != nil {
		m.mu.Lock()
		delete(m.sessions, sess.Cookie)
		m.mu.Unlock()
		return "", polkiterr.Wrap(polkiterr.KindBrokerUnavailable, i18n.G("no authentication agent available"), err)
	}
	return sess.Cookie, nil
}

// lookup returns the session for cookie, or an UnknownCookie error.
func (m *Manager) lookup(cookie string) (*Session, error) {
	sess, ok := m.sessions[cookie]
	if !ok {
		return nil, polkiterr.New(polkiterr.KindUnknownCookie, fmt.Sprintf(i18n.G("no such authentication session %q"), cookie))
	}
	return sess, nil
}

// RequestScopeOverride lets the client downgrade the retention scope the
// engine originally demanded (spec §4.6 "Scope override rule"). An attempt
// to request a more retentive scope is rejected and the session is failed.
func (m *Manager) RequestScopeOverride(cookie string, requested authstore.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.lookup(cookie)
	if err != nil {
		return err
	}
	if sess.State != StateAwaitingAgent {
		return polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("session is no longer accepting a scope override"))
	}
	if requested != sess.RequiredScope && !requested.LessRetentiveThan(sess.RequiredScope) {
		sess.State = StateCompletedFailure
		return polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("scope override may only downgrade, never upgrade, the required scope"))
	}
	sess.EffectiveScope = requested
	sess.scopeExplicitlySet = true
	return nil
}

// Cancel tears down a session before it completes (spec §5 cancellation).
func (m *Manager) Cancel(cookie string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, err := m.lookup(cookie)
	if err != nil {
		return err
	}
	sess.State = StateDismissed
	delete(m.sessions, cookie)
	return nil
}

// AuthenticationAgentResponse is the terminal report of a PAM conversation's
// outcome: the authentication helper (G), on PAM success, calls this with
// the identity that authenticated (spec §4.7 "Authentication helper").
// emptyConversation is true when the helper observed zero user-visible PAM
// prompts, triggering the one-step auto-downgrade safeguard of §4.6.
func (m *Manager) AuthenticationAgentResponse(cookie string, authenticated identity.Identity, emptyConversation bool) error {
	m.mu.Lock()
	sess, err := m.lookup(cookie)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.sessions, cookie)
	m.mu.Unlock()

	if sess.State != StateAwaitingAgent {
		return polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("session already completed"))
	}

	if sess.RequiresAdmin {
		found := false
		authRec, authErr := m.db.LookupUser(authenticated.Name())
		for _, c := range sess.AdminCandidates {
			if c.Equal(authenticated) {
				found = true
				break
			}
			// Candidates are named by user name, while a response arriving
			// over the bus names the user by uid: compare the resolved uids.
			if authErr == nil && authenticated.Kind() == identity.KindUnixUser {
				if rec, err := m.db.LookupUser(c.Name()); err == nil && rec.UID == authRec.UID {
					found = true
					break
				}
			}
		}
		if !found {
			sess.State = StateCompletedFailure
			return polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("authenticated identity is not a candidate administrator"))
		}
	}

	effectiveScope := sess.EffectiveScope
	if !sess.scopeExplicitlySet && emptyConversation {
		effectiveScope = downgradeOneStep(effectiveScope)
	}

	authorizingUID, err := m.resolveUID(authenticated)
	if err != nil {
		sess.State = StateCompletedFailure
		return err
	}

	sessState, err := m.tracker.StateFor(sess.Subject)
	if err != nil {
		sess.State = StateCompletedFailure
		return err
	}

	if err := m.commit(sess, effectiveScope, authorizingUID, sessState); err != nil {
		sess.State = StateCompletedFailure
		return err
	}
	sess.State = StateCompletedSuccess
	return nil
}

func (m *Manager) commit(sess *Session, scope authstore.Scope, authorizingUID uint32, state authstore.SessionState) error {
	switch scope {
	case authstore.ScopeAlways:
		return m.store.AddAlways(sess.ActionID, authorizingUID, state)
	case authstore.ScopeSession:
		sessionID := sess.Subject.SessionID()
		if sessionID == "" && m.resolver != nil {
			var err error
			sessionID, err = m.resolver.SessionIDFor(sess.Subject)
			if err != nil {
				return err
			}
		}
		if sessionID == "" {
			return polkiterr.New(polkiterr.KindInternal, i18n.G("cannot determine session id for a session-scoped grant"))
		}
		return m.store.AddSession(sess.ActionID, sessionID, authorizingUID, state)
	case authstore.ScopeProcessOneShot, authstore.ScopeProcess:
		return m.store.AddProcess(sess.ActionID, sess.Subject.PID(), sess.Subject.StartTime(), authorizingUID, state, scope == authstore.ScopeProcessOneShot)
	default:
		return polkiterr.New(polkiterr.KindInternal, fmt.Sprintf(i18n.G("unhandled scope %q"), scope))
	}
}

func (m *Manager) resolveUID(id identity.Identity) (uint32, error) {
	if id.Kind() != identity.KindUnixUser {
		return 0, polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("authenticated identity must be a unix-user"))
	}
	rec, err := m.db.LookupUser(id.Name())
	if err != nil {
		return 0, err
	}
	return rec.UID, nil
}

// downgradeOneStep implements the §4.6 "Empty-conversation safeguard"
// lattice: always steps down to session, session to one-shot. A required
// scope of one-shot is already the floor and is left untouched.
func downgradeOneStep(scope authstore.Scope) authstore.Scope {
	switch scope {
	case authstore.ScopeAlways:
		return authstore.ScopeSession
	case authstore.ScopeSession:
		return authstore.ScopeProcessOneShot
	default:
		return scope
	}
}
