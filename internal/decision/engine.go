// Package decision implements the authorization decision engine (spec §4.5):
// the component that combines the action registry, the local rule store, the
// explicit authorization store and the subject's session state into a single
// check_authorization outcome.
package decision

import (
	"context"
	"fmt"
	"sync"

	"github.com/polkit-go/polkitd/internal/action"
	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/log"
	"github.com/polkit-go/polkitd/internal/polkiterr"
	"github.com/polkit-go/polkitd/internal/rules"
)

// SessionTracker is the external collaborator (spec §1 "out of scope") that
// maps a subject to its current session liveness/locality/activity and,
// for subjects that don't carry a uid directly, to the uid that owns them.
type SessionTracker interface {
	StateFor(subject identity.Subject) (authstore.SessionState, error)
	// OwnerUID resolves the uid that owns a unix-session subject. Never
	// called for unix-process/bus-name subjects, which carry their own uid.
	OwnerUID(subject identity.Subject) (uint32, error)
}

// SessionIssuer starts an authentication session (F) for a challenge
// outcome and returns the cookie the client uses to correlate an agent's
// eventual response. Implemented by internal/authsession; declared here as
// an interface to avoid a dependency cycle (F needs C and B, which E also
// needs, but E must not import F directly).
type SessionIssuer interface {
	Start(subject identity.Subject, actionID string, uid uint32, requiredScope authstore.Scope, requiresAdmin bool, details map[string]string) (cookie string, err error)
}

// Result is the structured outcome of a check (spec §4.5 "Output").
type Result struct {
	IsAuthorized bool
	IsChallenge  bool
	IsDismissed  bool
	Cookie       string
	Details      map[string]string
}

// Engine ties components A-D and F (via SessionIssuer) together to answer
// check_authorization calls. Registry and Rules are swapped wholesale on
// reload (spec §4.2, §4.4); Engine holds pointers so a live evaluation keeps
// using the snapshot it started with even if a reload happens mid-flight.
type Engine struct {
	Registry *action.Registry
	Rules    *rules.Store
	Store    *authstore.Store
	DB       identity.Database
	Tracker  SessionTracker
	Sessions SessionIssuer

	mu sync.RWMutex
}

// Reload swaps in a freshly loaded registry and rule store atomically, so a
// concurrent Check sees either the full old pair or the full new pair, never
// a registry from one generation paired with rules from another (spec §4.2,
// §4.4 reload contracts).
func (e *Engine) Reload(registry *action.Registry, rulesStore *rules.Store) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Registry = registry
	e.Rules = rulesStore
}

// snapshot returns the registry/rules pair a single Check call should use,
// fixed for the duration of that call even if Reload runs concurrently.
func (e *Engine) snapshot() (*action.Registry, *rules.Store) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Registry, e.Rules
}

// Check runs the §4.5 algorithm for (subject, actionID).
func (e *Engine) Check(subject identity.Subject, actionID string, details map[string]string, allowUserInteraction bool) (Result, error) {
	registry, rulesStore := e.snapshot()

	// Step 1: resolve session state.
	sessState, err := e.Tracker.StateFor(subject)
	if err != nil {
		return Result{}, err
	}

	// Step 2: resolve the action descriptor.
	descriptor, err := registry.Lookup(actionID)
	if err != nil {
		return Result{IsAuthorized: false, IsChallenge: false}, nil
	}

	uid, err := e.ownerUID(subject)
	if err != nil {
		return Result{}, err
	}
	identityString, err := e.identityStringFor(uid)
	if err != nil {
		return Result{}, err
	}

	// Step 3: implicit authorization, overridden by D.
	actionState := action.SessionState(sessState)
	implicitAny := descriptor.Any
	implicitInactive := descriptor.Inactive
	implicitActive := descriptor.Active
	chosen := descriptor.DefaultFor(actionState)

	ruleDecision := rulesStore.Apply(identityString, actionID, implicitAny, implicitInactive, implicitActive)
	if ruleDecision.MatchedRuleID != "" {
		overridden := action.Descriptor{Any: ruleDecision.Any, Inactive: ruleDecision.Inactive, Active: ruleDecision.Active}
		chosen = overridden.DefaultFor(actionState)
	}

	if chosen == action.Authorized {
		return Result{IsAuthorized: true, Details: mergeDetails(details, ruleDecision.Details)}, nil
	}

	// Step 4: explicit authorizations from C.
	explicit, err := e.Store.Evaluate(uid, actionID, sessState)
	if err != nil {
		return Result{}, err
	}
	if explicit.Negative {
		denyDetails := mergeDetails(details, map[string]string{"polkit.denied-by": explicit.DenySource})
		return Result{IsAuthorized: false, Details: denyDetails}, nil
	}
	if explicit.Positive {
		if explicit.Consumed != nil {
			if err := e.Store.RetireOneShot(uid, *explicit.Consumed); err != nil {
				log.Warningf(context.Background(), i18n.G("failed to retire consumed one-shot authorization: %v"), err)
			}
		}
		return Result{IsAuthorized: true}, nil
	}

	// Step 5: implicit not-authorized is terminal.
	if chosen == action.NotAuthorized {
		return Result{IsAuthorized: false}, nil
	}

	// Step 6: implicit result requires authentication.
	if !allowUserInteraction {
		return Result{IsChallenge: true, IsAuthorized: false}, nil
	}

	// The scope demanded of F is always one of the three rungs of the
	// override lattice (spec §4.6, §8): a plain (non-retained) outcome asks
	// for nothing beyond the single pending check, hence one-shot; a
	// retained outcome asks for session retention, or always when the
	// retained credentials must also be an administrator's (the
	// longer-lived grant an admin is trusted to hand out).
	requiredScope := authstore.ScopeProcessOneShot
	switch {
	case chosen.Retained() && chosen.RequiresAdmin():
		requiredScope = authstore.ScopeAlways
	case chosen.Retained():
		requiredScope = authstore.ScopeSession
	}

	sessionDetails := mergeDetails(details, ruleDecision.Details)
	cookie, err := e.Sessions.Start(subject, actionID, uid, requiredScope, chosen.RequiresAdmin(), sessionDetails)
	if err != nil {
		return Result{}, err
	}
	return Result{IsChallenge: true, IsAuthorized: false, Cookie: cookie}, nil
}

// IsAuthorized runs Check without user interaction and reports only the
// yes/no outcome, for callers (the grant/read helpers' meta-authorization
// gate) that need a plain bool rather than a full challenge/cookie Result.
func (e *Engine) IsAuthorized(subject identity.Subject, actionID string, details map[string]string) (bool, error) {
	result, err := e.Check(subject, actionID, details, false)
	if err != nil {
		return false, err
	}
	return result.IsAuthorized, nil
}

// Actions returns every currently loaded action descriptor, for the
// daemon facade's EnumerateActions.
func (e *Engine) Actions() []action.Descriptor {
	registry, _ := e.snapshot()
	return registry.Enumerate()
}

// Rules returns every currently loaded local authorization rule, for the
// daemon facade's debug dump.
func (e *Engine) Rules() []rules.Rule {
	_, rulesStore := e.snapshot()
	return rulesStore.Rules()
}

// OwnerUID resolves the uid that owns subject, exported for callers (the
// daemon facade's enumerate/revoke-temporary-authorizations handlers) that
// need the same resolution Check performs internally.
func (e *Engine) OwnerUID(subject identity.Subject) (uint32, error) {
	return e.ownerUID(subject)
}

// mergeDetails combines caller-supplied context details with policy-derived
// ones, policy taking precedence on key collision since it reflects a
// deliberate administrator decision rather than client-supplied context.
func mergeDetails(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func (e *Engine) ownerUID(subject identity.Subject) (uint32, error) {
	switch subject.Kind() {
	case identity.SubjectUnixProcess, identity.SubjectBusName:
		return subject.UID(), nil
	case identity.SubjectUnixSession:
		return e.Tracker.OwnerUID(subject)
	default:
		return 0, polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("subject has no recognized kind"))
	}
}

func (e *Engine) identityStringFor(uid uint32) (string, error) {
	rec, err := e.DB.LookupUser(fmt.Sprintf("%d", uid))
	if err != nil {
		return "", err
	}
	return identity.NewUnixUser(rec.Name).String(), nil
}
