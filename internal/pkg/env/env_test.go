package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvPrefersEnvFile(t *testing.T) {
	t.Setenv("BEANCOUNTER_TEST_KEY", "from-os")
	Env = map[string]string{"BEANCOUNTER_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, "from-file", GetEnv("BEANCOUNTER_TEST_KEY", "def"))

	Env = nil
	assert.Equal(t, "from-os", GetEnv("BEANCOUNTER_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("BEANCOUNTER_TEST_MISSING", "def"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"INT_OK":       "42",
		"INT_BAD":      "forty-two",
		"BOOL_OK":      "true",
		"BOOL_BAD":     "maybe",
		"DURATION_OK":  "90m",
		"DURATION_BAD": "soon",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 42, GetEnvInt("INT_OK", 1))
	assert.Equal(t, 1, GetEnvInt("INT_BAD", 1))
	assert.Equal(t, 7, GetEnvInt("INT_MISSING", 7))
	assert.True(t, GetEnvBool("BOOL_OK", false))
	assert.False(t, GetEnvBool("BOOL_BAD", false))
	assert.Equal(t, 90*time.Minute, GetEnvDuration("DURATION_OK", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("DURATION_BAD", time.Second))
}

func TestSetupEnvFileWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(filepath.Join(dir)))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		Env = nil
	})

	assert.NotPanics(t, SetupEnvFile)
	assert.Empty(t, Env)
}

func TestSetupEnvFileReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_ENV=dev\n"), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		Env = nil
	})

	SetupEnvFile()
	assert.True(t, IsDev())
}
