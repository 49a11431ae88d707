package identity

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// SubjectKind discriminates the subject variants of spec §3.
type SubjectKind int

const (
	// SubjectUnixProcess identifies the process that asked, by pid + start
	// time fingerprint + owning uid.
	SubjectUnixProcess SubjectKind = iota
	// SubjectBusName identifies a unique connection name on the system bus.
	SubjectBusName
	// SubjectUnixSession identifies an opaque session id from the session tracker.
	SubjectUnixSession
)

// Subject is a tagged value identifying the entity asking for authorization
// (spec §3). Construct with NewUnixProcess, NewBusName or NewUnixSession.
type Subject struct {
	kind SubjectKind

	pid       int32
	startTime uint64
	uid       uint32

	busName string

	sessionID string
}

// NewUnixProcess returns a subject naming a process, validated against its
// current /proc start-time fingerprint. root is the filesystem root to read
// /proc under (normally "/"; tests may override it).
//
// uid of -1 means "derive from the process"; per spec §9(b) this requires a
// privileged path (reading /proc/<pid>/status as root) and fails with
// NoSuchSubject if the owning uid cannot be determined rather than silently
// assuming the caller's own uid.
func NewUnixProcess(root string, pid int32, uid int64) (Subject, error) {
	startTime, err := ProcessStartTime(root, pid)
	if err != nil {
		return Subject{}, err
	}

	resolvedUID := uid
	if uid < 0 {
		resolvedUID, err = deriveOwningUID(root, pid)
		if err != nil {
			return Subject{}, polkiterr.Wrap(polkiterr.KindNoSuchSubject,
				fmt.Sprintf(i18n.G("could not derive owning uid of pid %d"), pid), err)
		}
	}

	return Subject{kind: SubjectUnixProcess, pid: pid, startTime: startTime, uid: uint32(resolvedUID)}, nil
}

// NewBusName returns a subject naming a unique connection name on the bus.
// pid/uid/startTime are normally filled in by resolving the name against the
// bus broker (see ResolveBusName); this constructor is for callers that
// already have them (e.g. a cached resolution).
func NewBusName(name string, pid int32, uid uint32, startTime uint64) Subject {
	return Subject{kind: SubjectBusName, busName: name, pid: pid, uid: uid, startTime: startTime}
}

// NewUnixSession returns a subject naming an opaque session id.
func NewUnixSession(sessionID string) Subject {
	return Subject{kind: SubjectUnixSession, sessionID: sessionID}
}

// Kind returns the subject's variant.
func (s Subject) Kind() SubjectKind { return s.kind }

// PID returns the process id for unix-process and resolved bus-name subjects.
func (s Subject) PID() int32 { return s.pid }

// StartTime returns the process start-time fingerprint.
func (s Subject) StartTime() uint64 { return s.startTime }

// UID returns the subject's owning uid, when known (unix-process, resolved bus-name).
func (s Subject) UID() uint32 { return s.uid }

// BusName returns the unique connection name for bus-name subjects.
func (s Subject) BusName() string { return s.busName }

// SessionID returns the opaque session id for unix-session subjects.
func (s Subject) SessionID() string { return s.sessionID }

// Valid re-validates a unix-process subject's start-time fingerprint against
// the current process table: if the pid has been reused by a different
// process since the subject was constructed, Valid reports false ("the
// process has been replaced", spec §3) and any further use of the subject
// reference is stale.
func (s Subject) Valid(root string) bool {
	if s.kind != SubjectUnixProcess {
		return true
	}
	current, err := ProcessStartTime(root, s.pid)
	if err != nil {
		return false
	}
	return current == s.startTime
}

// ProcessStartTime determines the start time fingerprint of pid by reading
// /proc/<pid>/stat.
//
// The implementation is intended to be compatible with the reference
// implementation's polkitunixprocess.c: the start time is the token at index
// 19 after the "(process name)" entry, located by searching from the end for
// the closing parenthesis since only that field may contain ')'.
func ProcessStartTime(root string, pid int32) (uint64, error) {
	f, err := os.Open(filepath.Join(root, fmt.Sprintf("proc/%d/stat", pid)))
	if err != nil {
		return 0, polkiterr.Wrap(polkiterr.KindNoSuchSubject,
			fmt.Sprintf(i18n.G("couldn't open stat file for process %d"), pid), err)
	}
	defer f.Close()

	startTime, err := startTimeFromReader(f)
	if err != nil {
		return 0, polkiterr.Wrap(polkiterr.KindNoSuchSubject,
			fmt.Sprintf(i18n.G("couldn't determine start time of process %d"), pid), err)
	}
	return startTime, nil
}

func startTimeFromReader(r io.Reader) (uint64, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return 0, err
	}
	contents := string(data)

	idx := strings.LastIndexByte(contents, ')')
	if idx < 0 {
		return 0, errors.New(i18n.G("parsing error: missing )"))
	}
	idx += 2 // skip ") "
	if idx > len(contents) {
		return 0, errors.New(i18n.G("parsing error: ) at the end"))
	}
	tokens := strings.Split(contents[idx:], " ")
	if len(tokens) < 20 {
		return 0, errors.New(i18n.G("parsing error: less fields than required"))
	}
	v, err := strconv.ParseUint(tokens[19], 10, 64)
	if err != nil {
		return 0, fmt.Errorf(i18n.G("parsing error: %v"), err)
	}
	return v, nil
}

// deriveOwningUID reads the Uid line of /proc/<pid>/status, which requires
// CAP_DAC_OVERRIDE-equivalent privilege to read for processes owned by
// another user; see spec §9(b).
func deriveOwningUID(root string, pid int32) (int64, error) {
	data, err := ioutil.ReadFile(filepath.Join(root, fmt.Sprintf("proc/%d/status", pid)))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, errors.New(i18n.G("malformed Uid line in process status"))
		}
		uid, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return uid, nil
	}
	return 0, errors.New(i18n.G("no Uid line in process status"))
}
