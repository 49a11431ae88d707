package rules_test

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/polkit-go/polkitd/internal/action"
	"github.com/polkit-go/polkitd/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

const lowPriority = `
rules:
  - group: allow-wheel
    identity: ["unix-group:wheel"]
    action: ["org.example.*"]
    resultAny: authorized
`

const highPriority = `
rules:
  - group: deny-bob
    identity: ["unix-user:bob"]
    action: ["org.example.write"]
    resultAny: not-authorized
    resultActive: not-authorized
`

func TestRuleOverridesInPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "10-allow.rules.yaml", lowPriority)
	writeRuleFile(t, dir, "90-deny.rules.yaml", highPriority)

	store, errs := rules.Load(dir)
	require.Empty(t, errs)

	// bob is not in wheel: only the higher-priority deny rule matches.
	d := store.Apply("unix-user:bob", "org.example.write", action.AuthenticationRequired, "", action.AuthenticationRequired)
	assert.Equal(t, action.NotAuthorized, d.Any)
	assert.Equal(t, action.NotAuthorized, d.Active)
	assert.Equal(t, "90-deny.rules.yaml::deny-bob", d.MatchedRuleID)

	// the wheel group identity: only the lower-priority allow rule matches.
	d = store.Apply("unix-group:wheel", "org.example.write", action.AuthenticationRequired, "", action.AuthenticationRequired)
	assert.Equal(t, action.Authorized, d.Any)
}

func TestRuleNoMatchLeavesDefaultsUntouched(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "10-allow.rules.yaml", lowPriority)
	store, errs := rules.Load(dir)
	require.Empty(t, errs)

	d := store.Apply("unix-user:nobody", "org.example.read", action.AuthenticationRequired, "", "")
	assert.Equal(t, action.AuthenticationRequired, d.Any)
	assert.Empty(t, d.MatchedRuleID)
}

func TestLoadDropsUncompilableRuleOnly(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "bad.rules.yaml", `
rules:
  - group: broken
    identity: ["[unterminated"]
    action: ["org.example.*"]
    resultAny: authorized
  - group: fine
    identity: ["unix-user:alice"]
    action: ["org.example.*"]
    resultAny: authorized
`)
	store, errs := rules.Load(dir)
	require.Len(t, errs, 1)
	d := store.Apply("unix-user:alice", "org.example.x", action.NotAuthorized, "", "")
	assert.Equal(t, action.Authorized, d.Any)
}
