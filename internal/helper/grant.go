package helper

import (
	"fmt"

	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// AuthorizationChecker is the decision engine seam the grant and read
// helpers use to gate access to another uid's data (spec §4.7's
// meta-authorizations org.freedesktop.policykit.{grant,read}). Declared
// here, rather than importing internal/decision's concrete Engine, both to
// keep this package testable without spinning up a full engine and because
// decision.Result is the only part of that package this one needs.
type AuthorizationChecker interface {
	IsAuthorized(subject identity.Subject, actionID string, details map[string]string) (bool, error)
}

// GrantHelper performs the setgid-polkit-state-group side of an explicit
// authorization grant (spec §4.7 "grant helper"): gate on meta-
// authorization when the caller is acting on someone else's behalf, then
// append the record to the store.
type GrantHelper struct {
	Store   *authstore.Store
	Checker AuthorizationChecker
}

// Grant grants scope/constraint for actionID to targetUID, with caller
// acting as callerSubject/callerUID. A negative authorization a caller
// grants to themselves needs no further authorization (spec §4.3); every
// other case requires org.freedesktop.policykit.grant.
func (g *GrantHelper) Grant(callerSubject identity.Subject, callerUID, targetUID uint32, actionID string, scope authstore.Scope, constraint authstore.Constraint, isNegative bool) error {
	selfNegative := isNegative && callerUID == targetUID
	hasMeta := selfNegative
	if !hasMeta {
		ok, err := g.Checker.IsAuthorized(callerSubject, config.ActionGrant, map[string]string{
			"polkit.grant.target-uid": fmt.Sprintf("%d", targetUID),
			"polkit.grant.action-id":  actionID,
		})
		if err != nil {
			return err
		}
		hasMeta = ok
	}
	return g.Store.GrantExplicit(callerUID, targetUID, actionID, scope, constraint, isNegative, hasMeta)
}

// Revoke removes a matching record from targetUID's store, gated the same
// way as Grant (spec §4.3 revoke, §4.7).
func (g *GrantHelper) Revoke(callerSubject identity.Subject, callerUID, targetUID uint32, r authstore.Record) error {
	if callerUID != targetUID {
		ok, err := g.Checker.IsAuthorized(callerSubject, config.ActionRevoke, map[string]string{
			"polkit.revoke.target-uid": fmt.Sprintf("%d", targetUID),
			"polkit.revoke.action-id":  r.ActionID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return polkiterr.New(polkiterr.KindNotAuthorized, i18n.G("revoking another identity's authorization requires freedesktop.policykit.revoke"))
		}
	}
	return g.Store.Revoke(targetUID, r)
}
