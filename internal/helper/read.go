package helper

import (
	"fmt"
	"strings"

	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// ReadHelper dumps a uid's explicit authorizations in the same per-line
// record format the store persists, prefixed by the uid the dump is for
// (spec §4.7 "read helper", §6 "#uid=<n>" framing so a caller reading
// several uids worth of output in sequence can tell them apart).
type ReadHelper struct {
	Store   *authstore.Store
	Checker AuthorizationChecker
}

// Dump returns every currently relevant record belonging to targetUID.
// Reading another uid's authorizations requires
// org.freedesktop.policykit.read.
func (r *ReadHelper) Dump(callerSubject identity.Subject, callerUID, targetUID uint32) (string, error) {
	if callerUID != targetUID {
		ok, err := r.Checker.IsAuthorized(callerSubject, config.ActionRead, map[string]string{
			"polkit.read.target-uid": fmt.Sprintf("%d", targetUID),
		})
		if err != nil {
			return "", err
		}
		if !ok {
			return "", polkiterr.New(polkiterr.KindNotAuthorized, i18n.G("reading another identity's authorizations requires freedesktop.policykit.read"))
		}
	}

	var records []authstore.Record
	if err := r.Store.ForeachForUID(targetUID, func(rec authstore.Record) bool {
		records = append(records, rec)
		return true
	}); err != nil {
		return "", err
	}
	authstore.SortRecordsStable(records)

	var b strings.Builder
	fmt.Fprintf(&b, "#uid=%d\n", targetUID)
	for _, rec := range records {
		b.WriteString(rec.Serialize())
		b.WriteByte('\n')
	}
	return b.String(), nil
}
