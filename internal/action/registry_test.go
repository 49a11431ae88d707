package action_test

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/polkit-go/polkitd/internal/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noop = `
actions:
  - id: org.example.noop
    description: Noop
    message: Do nothing
    implicitAny: authorized
    implicitInactive: authorized
    implicitActive: authorized
`

const write = `
actions:
  - id: org.example.write
    description: Write
    message: Write something
    implicitAny: not-authorized
    implicitInactive: authentication-required
    implicitActive: authentication-required-retained
`

func writeActionFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadEnumerateLookup(t *testing.T) {
	dir := t.TempDir()
	writeActionFile(t, dir, "a.policy.yaml", noop)
	writeActionFile(t, dir, "b.policy.yaml", write)

	reg, errs := action.Load(dir)
	require.Empty(t, errs)

	descs := reg.Enumerate()
	require.Len(t, descs, 2)
	assert.Equal(t, "org.example.noop", descs[0].ID)
	assert.Equal(t, "org.example.write", descs[1].ID)

	d, err := reg.Lookup("org.example.noop")
	require.NoError(t, err)
	assert.Equal(t, action.Authorized, d.Any)

	_, err = reg.Lookup("org.example.missing")
	assert.Error(t, err)
}

func TestLoadDropsMalformedFileButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeActionFile(t, dir, "a.policy.yaml", noop)
	writeActionFile(t, dir, "bad.policy.yaml", "not: [valid yaml")

	reg, errs := action.Load(dir)
	require.Len(t, errs, 1)

	_, err := reg.Lookup("org.example.noop")
	require.NoError(t, err)
}

func TestLoadRejectsContentCollisionKeepsByteIdenticalOne(t *testing.T) {
	dir := t.TempDir()
	writeActionFile(t, dir, "a.policy.yaml", noop)
	writeActionFile(t, dir, "a2.policy.yaml", noop)

	reg, errs := action.Load(dir)
	require.Empty(t, errs)
	_, err := reg.Lookup("org.example.noop")
	require.NoError(t, err)

	conflicting := `
actions:
  - id: org.example.noop
    description: Different
    message: Different message
    implicitAny: not-authorized
`
	writeActionFile(t, dir, "c.policy.yaml", conflicting)
	_, errs = action.Load(dir)
	require.Len(t, errs, 1)
}

func TestDefaultFor(t *testing.T) {
	dir := t.TempDir()
	writeActionFile(t, dir, "w.policy.yaml", write)
	reg, errs := action.Load(dir)
	require.Empty(t, errs)

	out, err := reg.DefaultsFor("org.example.write", action.SessionState{Exists: true, IsLocal: true, IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, action.AuthenticationRequiredRetained, out)

	out, err = reg.DefaultsFor("org.example.write", action.SessionState{Exists: true, IsLocal: true, IsActive: false})
	require.NoError(t, err)
	assert.Equal(t, action.AuthenticationRequired, out)

	out, err = reg.DefaultsFor("org.example.write", action.SessionState{})
	require.NoError(t, err)
	assert.Equal(t, action.NotAuthorized, out)
}
