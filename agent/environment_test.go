package agent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEnvironmentReadWriteRoundTrip(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())

	require.NoError(t, env.WriteFile("sub/dir/file.txt", "line one\nline two\nline three"))
	assert.True(t, env.FileExists("sub/dir/file.txt"))
	assert.False(t, env.FileExists("missing.txt"))

	content, err := env.ReadFile("sub/dir/file.txt", 0, 0)
	require.NoError(t, err)
	assert.Contains(t, content, "1 | line one")
	assert.Contains(t, content, "3 | line three")
}

func TestLocalEnvironmentReadFileOffsetLimit(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())
	require.NoError(t, env.WriteFile("f.txt", "a\nb\nc\nd\ne"))

	content, err := env.ReadFile("f.txt", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "2 | b\n3 | c\n", content)

	// Offset past the end reads nothing.
	content, err = env.ReadFile("f.txt", 100, 0)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestLocalEnvironmentReadMissingFile(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())
	_, err := env.ReadFile("nope.txt", 0, 0)
	require.Error(t, err)
}

func TestLocalEnvironmentListDirectory(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalEnvironment(dir)
	require.NoError(t, env.WriteFile("a.txt", "content"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	entries, err := env.ListDirectory(".")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]DirEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.False(t, byName["a.txt"].IsDir)
	assert.Equal(t, int64(7), byName["a.txt"].Size)
	assert.True(t, byName["subdir"].IsDir)
}

func TestLocalEnvironmentExecCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell semantics differ on windows")
	}
	env := NewLocalEnvironment(t.TempDir())

	result, err := env.ExecCommand(context.Background(), "echo hello", 5000)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.TimedOut)
}

func TestLocalEnvironmentExecCommandExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell semantics differ on windows")
	}
	env := NewLocalEnvironment(t.TempDir())

	result, err := env.ExecCommand(context.Background(), "exit 3", 5000)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestLocalEnvironmentExecCommandTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell semantics differ on windows")
	}
	env := NewLocalEnvironment(t.TempDir())

	result, err := env.ExecCommand(context.Background(), "sleep 5", 50)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
}

func TestExecResultOutput(t *testing.T) {
	assert.Equal(t, "out", ExecResult{Stdout: "out"}.Output())
	assert.Equal(t, "err", ExecResult{Stderr: "err"}.Output())
	assert.Equal(t, "out\nerr", ExecResult{Stdout: "out", Stderr: "err"}.Output())
}

func TestSensitiveEnvFiltering(t *testing.T) {
	assert.True(t, isSensitiveEnvVar("OPENAI_API_KEY"))
	assert.True(t, isSensitiveEnvVar("db_password"))
	assert.True(t, isSensitiveEnvVar("GITHUB_TOKEN"))
	assert.False(t, isSensitiveEnvVar("PATH"))
	assert.False(t, isSensitiveEnvVar("EDITOR"))
}
