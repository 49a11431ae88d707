package authstore

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/log"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// fileName returns the per-user authorization file name for userName (spec §6
// "<state-dir>/user-<name>.auths").
func fileName(userName string) string {
	return fmt.Sprintf("%s%s%s", config.RecordFilePrefix, userName, config.RecordFileSuffix)
}

// ProcessLiveFunc reports the start-time fingerprint of pid, for checking
// whether a process-scoped record is still relevant. It mirrors
// identity.ProcessStartTime's signature so the default wiring is a one-liner.
type ProcessLiveFunc func(pid int32) (uint64, error)

// SessionExistsFunc reports whether sessionID still names a live session.
type SessionExistsFunc func(sessionID string) bool

// Store is the file-backed explicit authorization store (spec §3, §4.3). A
// Store instance is stateless aside from its directory roots and the
// liveness seams: every query re-reads the relevant files from disk, so a
// concurrent write by the grant helper (§6 write protocol) is always
// observed on the next call.
type Store struct {
	runDir string // transient records: process/session scope
	libDir string // permanent records: always scope

	db identity.Database

	processLive  ProcessLiveFunc
	sessionExists SessionExistsFunc
}

// New returns a Store rooted at runDir (transient, typically under
// /run/polkitd) and libDir (permanent, typically under
// /var/lib/polkit-go). A nil sessionExists always reports the session
// absent, which is the safe default absent a session tracker.
func New(runDir, libDir string, db identity.Database, processLive ProcessLiveFunc, sessionExists SessionExistsFunc) *Store {
	if processLive == nil {
		processLive = func(pid int32) (uint64, error) {
			return identity.ProcessStartTime("/", pid)
		}
	}
	if sessionExists == nil {
		sessionExists = func(string) bool { return false }
	}
	return &Store{runDir: runDir, libDir: libDir, db: db, processLive: processLive, sessionExists: sessionExists}
}

// dirFor returns the directory a record of the given scope lives in.
func (s *Store) dirFor(scope Scope) string {
	if scope == ScopeAlways {
		return s.libDir
	}
	return s.runDir
}

// relevant reports whether r still names a live grant (spec §4.3): a
// process-scoped record is relevant only while (pid, pid-start-time) still
// names a live process with a matching start time; a session-scoped record
// only while the session tracker still knows the session; always-scoped
// records are always relevant.
func (s *Store) relevant(r Record) bool {
	switch r.Scope {
	case ScopeProcess, ScopeProcessOneShot:
		current, err := s.processLive(r.PID)
		return err == nil && current == r.PIDStartTime
	case ScopeSession:
		return s.sessionExists(r.SessionID)
	case ScopeAlways:
		return true
	default:
		return false
	}
}

// userName resolves uid to the user name used in the per-user file path.
func (s *Store) userName(uid uint32) (string, error) {
	rec, err := s.db.LookupUser(fmt.Sprintf("%d", uid))
	if err != nil {
		return "", err
	}
	return rec.Name, nil
}

// readFile loads every syntactically valid record out of path, skipping
// blank and '#'-prefixed lines. A missing file yields no records and no
// error: an absent file means "no grants yet", not a fault.
func readFile(path string) ([]Record, error) {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		r, err := ParseRecord(trimmed)
		if err != nil {
			log.Warning(context.Background(), fmt.Sprintf(i18n.G("dropping malformed authorization record in %s: %v"), path, err))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// allRecords returns every on-disk record for uid across both the run and
// lib roots, each tagged with the path it was read from (needed by revoke to
// know which file to rewrite).
func (s *Store) allRecords(uid uint32) ([]taggedRecord, error) {
	name, err := s.userName(uid)
	if err != nil {
		return nil, err
	}
	var out []taggedRecord
	for _, dir := range []string{s.runDir, s.libDir} {
		path := filepath.Join(dir, fileName(name))
		records, err := readFile(path)
		if err != nil {
			return nil, polkiterr.Wrap(polkiterr.KindInternal, fmt.Sprintf(i18n.G("reading %s"), path), err)
		}
		for _, r := range records {
			out = append(out, taggedRecord{Record: r, path: path})
		}
	}
	return out, nil
}

type taggedRecord struct {
	Record
	path string
}

// FilterFunc is called once per relevant record by ForeachForUID and
// ForeachForActionForUID; returning false stops iteration early (spec §6
// "filter_fn may request early termination").
type FilterFunc func(Record) (keepGoing bool)

// ForeachForUID iterates every *relevant* record belonging to uid, in no
// particular order, until fn returns false or records are exhausted.
// Stale process, process-one-shot and session records are filtered out
// before fn ever sees them (spec §4.3, §8 "is_relevant"); a live
// process-one-shot record is passed to fn like any other.
func (s *Store) ForeachForUID(uid uint32, fn FilterFunc) error {
	records, err := s.allRecords(uid)
	if err != nil {
		return err
	}
	for _, tr := range records {
		if !s.relevant(tr.Record) {
			continue
		}
		if !fn(tr.Record) {
			return nil
		}
	}
	return nil
}

// ForeachForActionForUID is ForeachForUID restricted to records for actionID.
func (s *Store) ForeachForActionForUID(uid uint32, actionID string, fn FilterFunc) error {
	return s.ForeachForUID(uid, func(r Record) bool {
		if r.ActionID != actionID {
			return true
		}
		return fn(r)
	})
}

// ExplicitDecision is the outcome of iterating the explicit authorizations
// relevant to one (uid, action-id) pair (spec §4.5 step 4).
type ExplicitDecision struct {
	Negative bool // a negative record matched: result is forced not-authorized
	Positive bool // at least one positive record matched (when !Negative)
	Consumed *Record // the record to retire (a consumed process-one-shot), if any
	DenySource string // the matched negative record's action id, for a detail message
}

// Evaluate iterates every relevant explicit record for (uid, actionID),
// never short-circuiting on the first positive match because a later
// negative match must still be seen (spec §4.3 "iteration must therefore be
// complete"). Among positive matches, the most restrictive scope that still
// satisfies its constraint is preferred for consumption: process-one-shot
// before process before session before always (spec §4.5's ordering note),
// so a one-shot grant is spent before a coarser one is touched.
func (s *Store) Evaluate(uid uint32, actionID string, sessionState SessionState) (ExplicitDecision, error) {
	var decision ExplicitDecision
	var bestPositive *Record

	err := s.ForeachForActionForUID(uid, actionID, func(r Record) bool {
		if !r.Constraint.Satisfied(sessionState) {
			return true
		}
		if r.Negative {
			decision.Negative = true
			decision.DenySource = r.ActionID
			return true // keep going: must see every record
		}
		decision.Positive = true
		if bestPositive == nil || r.Scope.rank() < bestPositive.Scope.rank() {
			rCopy := r
			bestPositive = &rCopy
		}
		return true
	})
	if err != nil {
		return ExplicitDecision{}, err
	}

	if !decision.Negative && decision.Positive && bestPositive != nil && bestPositive.Scope == ScopeProcessOneShot {
		decision.Consumed = bestPositive
	}
	return decision, nil
}

// IsRelevant reports whether r currently names a live grant; exported for
// callers (e.g. the daemon's EnumerateTemporaryAuthorizations) that need the
// liveness check without a full Evaluate.
func (s *Store) IsRelevant(r Record) bool { return s.relevant(r) }

// UserStats is one user's live/expired record counts, as reported by Stats.
type UserStats struct {
	Live    int
	Expired int
}

// Stats scans every per-user authorization file under both the run and lib
// roots and reports live/expired record counts per user name, for the
// daemon's debug dump.
func (s *Store) Stats() (map[string]UserStats, error) {
	out := make(map[string]UserStats)
	for _, dir := range []string{s.runDir, s.libDir} {
		matches, err := filepath.Glob(filepath.Join(dir, config.RecordFilePrefix+"*"+config.RecordFileSuffix))
		if err != nil {
			return nil, polkiterr.Wrap(polkiterr.KindInternal, i18n.G("listing authorization files"), err)
		}
		for _, path := range matches {
			base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), config.RecordFilePrefix), config.RecordFileSuffix)
			records, err := readFile(path)
			if err != nil {
				return nil, polkiterr.Wrap(polkiterr.KindInternal, fmt.Sprintf(i18n.G("reading %s"), path), err)
			}
			st := out[base]
			for _, r := range records {
				if s.relevant(r) {
					st.Live++
				} else {
					st.Expired++
				}
			}
			out[base] = st
		}
	}
	return out, nil
}

// Close releases any resources the store holds. The store itself is
// stateless between calls (every query re-reads from disk), so this is a
// hook for callers that want a symmetric lifecycle rather than a
// teardown this type actually needs.
func (s *Store) Close() error { return nil }

// AddProcess grants scope for actionID to the process subject, recording
// authorizingUID as whose PAM success produced the grant and the constraint
// implied by state (spec §4.3 add_process/add_process_one_shot).
func (s *Store) AddProcess(actionID string, pid int32, pidStartTime uint64, authorizingUID uint32, state SessionState, oneShot bool) error {
	scope := ScopeProcess
	if oneShot {
		scope = ScopeProcessOneShot
	}
	r := Record{
		Scope:          scope,
		ActionID:       actionID,
		WhenGranted:    nowUnix(),
		AuthorizingUID: authorizingUID,
		Constraint:     ForSession(state),
		PID:            pid,
		PIDStartTime:   pidStartTime,
	}
	return s.append(authorizingUID, r)
}

// AddSession grants session scope (spec §4.3 add_session).
func (s *Store) AddSession(actionID, sessionID string, authorizingUID uint32, state SessionState) error {
	r := Record{
		Scope:          ScopeSession,
		ActionID:       actionID,
		WhenGranted:    nowUnix(),
		AuthorizingUID: authorizingUID,
		Constraint:     ForSession(state),
		SessionID:      sessionID,
	}
	return s.append(authorizingUID, r)
}

// AddAlways grants always scope (spec §4.3 add_always).
func (s *Store) AddAlways(actionID string, authorizingUID uint32, state SessionState) error {
	r := Record{
		Scope:          ScopeAlways,
		ActionID:       actionID,
		WhenGranted:    nowUnix(),
		AuthorizingUID: authorizingUID,
		Constraint:     ForSession(state),
	}
	return s.append(authorizingUID, r)
}

// GrantExplicit records an operator-granted authorization for targetUID,
// enforcing the meta-authorization rule of spec §4.3: the caller must hold
// freedesktop.policykit.grant unless they are granting a negative
// authorization to their own uid. callerHasGrantMeta carries the outcome of
// that separate decision-engine check, since authstore has no way to
// evaluate one itself without importing the decision engine.
func (s *Store) GrantExplicit(callerUID, targetUID uint32, actionID string, scope Scope, constraint Constraint, isNegative, callerHasGrantMeta bool) error {
	if !isNegative || callerUID != targetUID {
		if !callerHasGrantMeta {
			return polkiterr.New(polkiterr.KindNotAuthorized,
				i18n.G("granting a positive authorization, or any authorization to another identity, requires org.freedesktop.policykit.grant"))
		}
	}
	r := Record{
		Scope:          scope,
		ActionID:       actionID,
		WhenGranted:    nowUnix(),
		AuthorizingUID: callerUID,
		Constraint:     constraint,
		Negative:       isNegative,
	}
	return s.append(targetUID, r)
}

// nowUnix is a seam for WhenGranted so tests can stub it without reaching
// into the forbidden time.Now()-in-library-code pattern; production callers
// use the real clock.
var nowUnix = func() int64 { return time.Now().Unix() }

// append performs the privileged-helper write protocol of spec §6: read the
// current file, append the new record, write to a fresh temp file in the
// same directory with mode 0o464, atomically rename over the original, then
// touch the reload sentinel. Real deployments run this path inside the
// setgid grant helper; the Store itself only needs file permissions on the
// state directories, which the daemon arranges.
func (s *Store) append(uid uint32, r Record) error {
	name, err := s.userName(uid)
	if err != nil {
		return err
	}
	dir := s.dirFor(r.Scope)
	path := filepath.Join(dir, fileName(name))

	existing, err := readFile(path)
	if err != nil {
		return polkiterr.Wrap(polkiterr.KindInternal, fmt.Sprintf(i18n.G("reading %s"), path), err)
	}
	for _, e := range existing {
		if e.Equal(r) {
			return polkiterr.New(polkiterr.KindConflict, i18n.G("an identical authorization already exists"))
		}
	}

	var b strings.Builder
	for _, e := range existing {
		b.WriteString(e.Serialize())
		b.WriteByte('\n')
	}
	b.WriteString(r.Serialize())
	b.WriteByte('\n')

	if err := writeAtomic(dir, path, []byte(b.String())); err != nil {
		return polkiterr.Wrap(polkiterr.KindInternal, fmt.Sprintf(i18n.G("writing %s"), path), err)
	}
	return touchReloadSentinel(dir)
}

// Revoke removes a single matching record from uid's file (spec §4.3
// revoke). It is not an error to revoke a record that is no longer present;
// the caller asked for its absence, and that is now true.
func (s *Store) Revoke(uid uint32, r Record) error {
	name, err := s.userName(uid)
	if err != nil {
		return err
	}
	dir := s.dirFor(r.Scope)
	path := filepath.Join(dir, fileName(name))

	existing, err := readFile(path)
	if err != nil {
		return polkiterr.Wrap(polkiterr.KindInternal, fmt.Sprintf(i18n.G("reading %s"), path), err)
	}

	kept := existing[:0]
	found := false
	for _, e := range existing {
		if !found && e.Equal(r) {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return nil
	}

	var b strings.Builder
	for _, e := range kept {
		b.WriteString(e.Serialize())
		b.WriteByte('\n')
	}
	if err := writeAtomic(dir, path, []byte(b.String())); err != nil {
		return polkiterr.Wrap(polkiterr.KindInternal, fmt.Sprintf(i18n.G("writing %s"), path), err)
	}
	return touchReloadSentinel(dir)
}

// RetireOneShot revokes r, which must be a consumed process-one-shot record
// (spec §4.3 "self-retire on first successful consumption").
func (s *Store) RetireOneShot(uid uint32, r Record) error {
	if r.Scope != ScopeProcessOneShot {
		return polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("RetireOneShot called on a non-one-shot record"))
	}
	return s.Revoke(uid, r)
}

func writeAtomic(dir, finalPath string, data []byte) error {
	tmp, err := ioutil.TempFile(dir, ".polkitd-auths-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o464); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func touchReloadSentinel(dir string) error {
	path := filepath.Join(dir, filepath.Base(config.ReloadSentinel))
	now := time.Now()
	if err := os.Chtimes(path, now, now); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
