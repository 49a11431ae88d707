package daemon

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// beginAuthenticationMethod is the method a registered agent exports for
// the daemon to invoke when a challenge outcome needs a UI (spec §4.6).
const beginAuthenticationMethod = "org.freedesktop.PolicyKit1.AuthenticationAgent.BeginAuthentication"

// agentRegistration names the authentication agent responsible for one
// session (spec §4.6): the bus name that registered it, the object it
// exports BeginAuthentication on, and the locale it asked prompts in.
type agentRegistration struct {
	busName    string
	objectPath dbus.ObjectPath
	locale     string
}

// agentRegistry tracks the one agent registered per session id. Real polkit
// allows exactly one active registration per session; a second
// RegisterAuthenticationAgent call simply replaces the first, matching the
// common case of a desktop session restarting its agent process.
type agentRegistry struct {
	mu  sync.Mutex
	reg map[string]agentRegistration
}

func newAgentRegistry() *agentRegistry {
	return &agentRegistry{reg: make(map[string]agentRegistration)}
}

func (r *agentRegistry) register(sessionID, busName string, objectPath dbus.ObjectPath, locale string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reg[sessionID] = agentRegistration{busName: busName, objectPath: objectPath, locale: locale}
}

func (r *agentRegistry) unregister(sessionID, busName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.reg[sessionID]; ok && existing.busName == busName {
		delete(r.reg, sessionID)
	}
}

func (r *agentRegistry) lookup(sessionID string) (agentRegistration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.reg[sessionID]
	return reg, ok
}

// sessions returns the session ids with a currently registered agent, for
// the debug dump.
func (r *agentRegistry) sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reg))
	for id := range r.reg {
		out = append(out, id)
	}
	return out
}

// NotifyNewSession implements authsession.AgentNotifier: it resolves the
// session owning subject, finds the agent registered for it, and invokes
// BeginAuthentication on the agent's own exported object (spec §4.6
// "initiated" transition).
func (s *Server) NotifyNewSession(cookie string, subject identity.Subject, actionID string, details map[string]string, adminCandidates []identity.Identity) error {
	sessionID, err := s.Tracker.SessionIDFor(subject)
	if err != nil {
		return err
	}
	reg, ok := s.agents.lookup(sessionID)
	if !ok {
		return polkiterr.New(polkiterr.KindBrokerUnavailable,
			fmt.Sprintf(i18n.G("no authentication agent registered for session %q"), sessionID))
	}

	candidateNames := make([]string, len(adminCandidates))
	for i, c := range adminCandidates {
		candidateNames[i] = c.String()
	}

	obj := s.conn.Object(reg.busName, reg.objectPath)
	call := obj.Call(beginAuthenticationMethod, 0,
		actionID, reg.locale, details, subjectToDBus(subject), cookie, candidateNames)
	return call.Err
}
