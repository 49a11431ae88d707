package authstore_test

import (
	"testing"

	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	tests := map[string]authstore.Record{
		"always": {
			Scope: authstore.ScopeAlways, ActionID: "org.example.frob",
			WhenGranted: 1700000000, AuthorizingUID: 0, Constraint: authstore.ConstraintNone,
		},
		"process": {
			Scope: authstore.ScopeProcess, ActionID: "org.example.frob",
			WhenGranted: 1700000001, AuthorizingUID: 1000, Constraint: authstore.ConstraintLocal,
			PID: 4242, PIDStartTime: 123456,
		},
		"process-one-shot negative": {
			Scope: authstore.ScopeProcessOneShot, ActionID: "org.example.frob",
			WhenGranted: 1700000002, AuthorizingUID: 0, Constraint: authstore.ConstraintLocalActive,
			PID: 99, PIDStartTime: 7, Negative: true,
		},
		"session": {
			Scope: authstore.ScopeSession, ActionID: "org.example.frob",
			WhenGranted: 1700000003, AuthorizingUID: 1000, Constraint: authstore.ConstraintActive,
			SessionID: "session-abc123",
		},
	}

	for name, rec := range tests {
		t.Run(name, func(t *testing.T) {
			line := rec.Serialize()
			parsed, err := authstore.ParseRecord(line)
			require.NoError(t, err)
			assert.Equal(t, rec, parsed)
			assert.Equal(t, line, parsed.Serialize())
		})
	}
}

func TestParseRecordToleratesFieldOrder(t *testing.T) {
	a, err := authstore.ParseRecord("scope=always;action-id=org.example.x;when=1;auth-as=0;constraint=none;")
	require.NoError(t, err)
	b, err := authstore.ParseRecord("constraint=none;when=1;scope=always;auth-as=0;action-id=org.example.x;")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseRecordRejectsMissingScopeFields(t *testing.T) {
	_, err := authstore.ParseRecord("scope=process;action-id=org.example.x;when=1;auth-as=0;constraint=none;")
	assert.Error(t, err)

	_, err = authstore.ParseRecord("scope=session;action-id=org.example.x;when=1;auth-as=0;constraint=none;")
	assert.Error(t, err)
}

func TestParseRecordRejectsControlCharacters(t *testing.T) {
	_, err := authstore.ParseRecord("scope=always;action-id=org.example.x\n;when=1;auth-as=0;constraint=none;")
	assert.Error(t, err)
}

func TestScopeLattice(t *testing.T) {
	assert.True(t, authstore.ScopeProcessOneShot.LessRetentiveThan(authstore.ScopeSession))
	assert.True(t, authstore.ScopeSession.LessRetentiveThan(authstore.ScopeAlways))
	assert.False(t, authstore.ScopeAlways.LessRetentiveThan(authstore.ScopeSession))
	assert.False(t, authstore.ScopeProcess.LessRetentiveThan(authstore.ScopeProcessOneShot))
}
