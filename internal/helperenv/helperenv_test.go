package helperenv_test

import (
	"os"
	"testing"

	"github.com/polkit-go/polkitd/internal/helperenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeLocaleForwardsOnlyKnownVariables(t *testing.T) {
	require.NoError(t, os.Setenv("LANG", "en_US.UTF-8"))
	require.NoError(t, os.Setenv("SOME_UNRELATED_VAR", "anything"))
	defer os.Unsetenv("LANG")
	defer os.Unsetenv("SOME_UNRELATED_VAR")

	env := helperenv.SanitizeLocale()
	assert.Contains(t, env, "LANG=en_US.UTF-8")
	assert.Contains(t, env, "PATH="+helperenv.MinimalPath)
	for _, kv := range env {
		assert.NotContains(t, kv, "SOME_UNRELATED_VAR")
	}
}

func TestSanitizeRejectsSuspiciousValues(t *testing.T) {
	require.NoError(t, os.Setenv("LANG", "../../etc/passwd"))
	defer os.Unsetenv("LANG")

	env := helperenv.SanitizeLocale()
	for _, kv := range env {
		assert.NotContains(t, kv, "LANG=")
	}
}

func TestValidValueRejectsPathAndPercentAndDotDot(t *testing.T) {
	assert.False(t, helperenv.ValidValue("X", "has/slash"))
	assert.False(t, helperenv.ValidValue("X", "has%percent"))
	assert.False(t, helperenv.ValidValue("X", "has..dotdot"))
	assert.True(t, helperenv.ValidValue("X", "plain-value"))
}

func TestApplyClearsAndSetsExactly(t *testing.T) {
	require.NoError(t, os.Setenv("SHOULD_BE_GONE", "x"))
	defer os.Unsetenv("SHOULD_BE_GONE")

	require.NoError(t, helperenv.Apply([]string{"PATH=" + helperenv.MinimalPath, "LANG=C"}))
	defer os.Clearenv()

	assert.Equal(t, "", os.Getenv("SHOULD_BE_GONE"))
	assert.Equal(t, helperenv.MinimalPath, os.Getenv("PATH"))
	assert.Equal(t, "C", os.Getenv("LANG"))
}
