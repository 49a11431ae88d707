// Package authstore implements the file-backed explicit authorization store
// (spec §3, §4.3): per-user text files of append-mostly grant records,
// written exclusively through a privileged helper under the write-new-file-
// and-rename protocol.
package authstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// Scope is the lifetime of an explicit authorization (spec §3).
type Scope string

const (
	// ScopeProcessOneShot is consumed on first successful use.
	ScopeProcessOneShot Scope = "process-one-shot"
	// ScopeProcess lasts for the lifetime of the granting process.
	ScopeProcess Scope = "process"
	// ScopeSession lasts for the lifetime of the granting session.
	ScopeSession Scope = "session"
	// ScopeAlways never expires on its own.
	ScopeAlways Scope = "always"
)

// rank orders scopes from least to most retentive, used for the F state
// machine's monotone-downgrade check and for "most restrictive scope wins"
// consumption preference (spec §4.5).
func (s Scope) rank() int {
	switch s {
	case ScopeProcessOneShot:
		return 0
	case ScopeProcess:
		return 1
	case ScopeSession:
		return 2
	case ScopeAlways:
		return 3
	default:
		return -1
	}
}

// LessRetentiveThan reports whether s sits strictly below other in the
// process-one-shot < process < session < always lattice (spec §4.6), as
// ranked by rank(); every scope is its own rung.
func (s Scope) LessRetentiveThan(other Scope) bool {
	return s.rank() < other.rank()
}

// ParseScope validates a scope name from outside this package (the grant
// helper's CLI), rejecting anything that isn't one of the four names above
// rather than silently accepting an unranked Scope("") a rank() switch would
// quietly fall through on.
func ParseScope(s string) (Scope, error) {
	scope := Scope(s)
	if scope.rank() < 0 {
		return "", polkiterr.New(polkiterr.KindInvalidRequest, fmt.Sprintf(i18n.G("invalid scope %q"), s))
	}
	return scope, nil
}

// Record is an explicit authorization record (spec §3). The zero value is
// not meaningful; records come from the Store's Add*/GrantExplicit methods
// or from ParseRecord.
type Record struct {
	Scope          Scope
	ActionID       string
	WhenGranted    int64 // unix seconds
	AuthorizingUID uint32
	Constraint     Constraint
	Negative       bool

	// Process-scope fields (Scope == ScopeProcess || ScopeProcessOneShot).
	PID           int32
	PIDStartTime  uint64

	// Session-scope field (Scope == ScopeSession).
	SessionID string
}

// serializedFields lists the key order used when writing a record, per §6
// ("fixed and ordered as in §3 but parsers must tolerate any order").
func (r Record) serializedFields() [][2]string {
	fields := [][2]string{
		{"scope", string(r.Scope)},
		{"action-id", r.ActionID},
		{"when", strconv.FormatInt(r.WhenGranted, 10)},
		{"auth-as", strconv.FormatUint(uint64(r.AuthorizingUID), 10)},
		{"constraint", string(r.Constraint)},
	}
	if r.Negative {
		fields = append(fields, [2]string{"negative", "true"})
	}
	switch r.Scope {
	case ScopeProcess, ScopeProcessOneShot:
		fields = append(fields,
			[2]string{"pid", strconv.FormatInt(int64(r.PID), 10)},
			[2]string{"pid-start-time", strconv.FormatUint(r.PIDStartTime, 10)})
	case ScopeSession:
		fields = append(fields, [2]string{"session-id", r.SessionID})
	}
	return fields
}

// Serialize renders r as one "key=value;key=value;..." line, without a
// trailing newline.
func (r Record) Serialize() string {
	fields := r.serializedFields()
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f[0]+"="+f[1])
	}
	return strings.Join(parts, ";") + ";"
}

// Equal compares two records by their canonical serialization, used by the
// revoke path to find the line matching a caller-supplied entry (spec §4.3).
func (r Record) Equal(other Record) bool {
	return r.Serialize() == other.Serialize()
}

// ParseRecord parses one non-comment, non-blank line of a user authorization
// file. Keys may appear in any order; an unknown key is ignored so the
// format can grow without breaking older readers; a field containing more
// than one '=' or a value containing control characters is rejected (spec §4.7).
func ParseRecord(line string) (Record, error) {
	var r Record
	fields := strings.Split(strings.TrimSuffix(strings.TrimSpace(line), ";"), ";")
	seen := make(map[string]bool)

	for _, f := range fields {
		if f == "" {
			continue
		}
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			return Record{}, polkiterr.New(polkiterr.KindInvalidRequest,
				fmt.Sprintf(i18n.G("malformed field %q"), f))
		}
		key, value := kv[0], kv[1]
		if strings.Contains(value, "=") || containsControl(value) {
			return Record{}, polkiterr.New(polkiterr.KindInvalidRequest,
				fmt.Sprintf(i18n.G("invalid characters in field %q"), f))
		}
		seen[key] = true

		switch key {
		case "scope":
			r.Scope = Scope(value)
		case "action-id":
			r.ActionID = value
		case "when":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Record{}, polkiterr.Wrap(polkiterr.KindInvalidRequest, i18n.G("invalid when field"), err)
			}
			r.WhenGranted = v
		case "auth-as":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Record{}, polkiterr.Wrap(polkiterr.KindInvalidRequest, i18n.G("invalid auth-as field"), err)
			}
			r.AuthorizingUID = uint32(v)
		case "constraint":
			r.Constraint = ParseConstraint(value)
		case "negative":
			r.Negative = value == "true"
		case "pid":
			v, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				return Record{}, polkiterr.Wrap(polkiterr.KindInvalidRequest, i18n.G("invalid pid field"), err)
			}
			r.PID = int32(v)
		case "pid-start-time":
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Record{}, polkiterr.Wrap(polkiterr.KindInvalidRequest, i18n.G("invalid pid-start-time field"), err)
			}
			r.PIDStartTime = v
		case "session-id":
			r.SessionID = value
		}
	}

	switch r.Scope {
	case ScopeProcess, ScopeProcessOneShot:
		if !seen["pid"] || !seen["pid-start-time"] {
			return Record{}, polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("process-scoped record missing pid/pid-start-time"))
		}
	case ScopeSession:
		if !seen["session-id"] {
			return Record{}, polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("session-scoped record missing session-id"))
		}
	case ScopeAlways:
		// no extra fields required
	default:
		return Record{}, polkiterr.New(polkiterr.KindInvalidRequest, fmt.Sprintf(i18n.G("unknown scope %q"), r.Scope))
	}
	if r.ActionID == "" {
		return Record{}, polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("record missing action-id"))
	}

	return r, nil
}

func containsControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// SortRecordsStable orders records by (ActionID, WhenGranted) for
// deterministic enumeration in tests and debug dumps.
func SortRecordsStable(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ActionID != records[j].ActionID {
			return records[i].ActionID < records[j].ActionID
		}
		return records[i].WhenGranted < records[j].WhenGranted
	})
}
