package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/coreos/go-systemd/activation"

	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/log"
)

// DebugSocket serves DumpState as plain text to anything that connects, the
// same systemd-activatable-or-local-socket story the teacher's own
// internal/daemon/daemon.go tells for its primary protocol socket, reused
// here for a debugging side-channel since DumpState isn't part of the
// Authority interface the D-Bus connection exports.
type DebugSocket struct {
	lis net.Listener
}

// ListenDebugSocket opens the debug socket, preferring an already-open
// systemd socket-activation listener over creating socket locally so the
// same polkitd.socket unit the system bus activation story uses can also
// gate this side-channel.
func ListenDebugSocket(socket string) (*DebugSocket, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf(i18n.G("couldn't retrieve systemd listeners: %w"), err)
	}

	var lis net.Listener
	switch len(listeners) {
	case 0:
		l, err := net.Listen("unix", socket)
		if err != nil {
			return nil, fmt.Errorf(i18n.G("couldn't listen on %q: %w"), socket, err)
		}
		if err := os.Chmod(socket, 0600); err != nil {
			log.Warningf(context.Background(), i18n.G("couldn't restrict permissions on %q: %v"), socket, err)
		}
		lis = l
	case 1:
		lis = listeners[0]
	default:
		return nil, fmt.Errorf(i18n.G("unexpected number of systemd socket activation fds (%d != 0 or 1)"), len(listeners))
	}

	return &DebugSocket{lis: lis}, nil
}

// Serve accepts connections until the listener is closed, writing one
// DumpState rendering to each and then closing it: a debug socket is meant
// for "connect once, read the dump, disconnect" use (nc, socat), not a
// persistent session.
func (d *DebugSocket) Serve(s *Server) {
	for {
		conn, err := d.lis.Accept()
		if err != nil {
			return
		}
		dump, err := s.DumpState()
		if err != nil {
			dump = fmt.Sprintf("error: %v\n", err)
		}
		fmt.Fprintln(conn, dump)
		conn.Close()
	}
}

// Close stops accepting connections and removes a locally created socket
// file; closing a systemd-activated listener is harmless since systemd owns
// the underlying fd's lifetime.
func (d *DebugSocket) Close() error {
	return d.lis.Close()
}
