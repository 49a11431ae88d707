package daemon

import (
	"github.com/k0kubun/pp"
)

// debugState is the pretty-printed shape DumpState renders: the loaded
// action registry, the loaded rule set, per-user explicit-authorization
// counts and the sessions with a currently registered authentication
// agent, filling the same debugging role as the teacher's own
// DumpStates RPC.
type debugState struct {
	Actions       int
	Rules         int
	RecordsByUser map[string]interface{}
	AgentSessions []string
}

// DumpState renders a snapshot of the daemon's in-memory state for
// debugging, the way the teacher's k0kubun/pp-based dump of zsys's own
// internal state does.
func (s *Server) DumpState() (string, error) {
	stats, err := s.Store.Stats()
	if err != nil {
		return "", err
	}
	recordsByUser := make(map[string]interface{}, len(stats))
	for user, st := range stats {
		recordsByUser[user] = st
	}

	state := debugState{
		Actions:       len(s.Engine.Actions()),
		Rules:         len(s.Engine.Rules()),
		RecordsByUser: recordsByUser,
		AgentSessions: s.agents.sessions(),
	}
	return pp.Sprint(state), nil
}
