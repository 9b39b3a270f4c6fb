package agentloop

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/codeloop/unifiedllm"
)

func TestFilterEnvironment(t *testing.T) {
	got := filterEnvironment([]string{
		"PATH=/bin",
		"OPENAI_API_KEY=sk",
		"github_token=t",
		"DB_PASSWORD=p",
		"EDITOR=vim",
		"malformed",
	})
	assert.Equal(t, []string{"PATH=/bin", "EDITOR=vim"}, got)
}

func TestShellCommand(t *testing.T) {
	shell, args := shellCommand("linux", "ls")
	assert.Equal(t, "/bin/sh", shell)
	assert.Equal(t, []string{"-c", "ls"}, args)

	shell, args = shellCommand("windows", "dir")
	assert.Equal(t, "powershell", shell)
	assert.Equal(t, []string{"-Command", "dir"}, args)
}

func TestExecResultOutput(t *testing.T) {
	assert.Equal(t, "out", ExecResult{Stdout: "out\n"}.Output())
	assert.Equal(t, "out\n\nStderr: err", ExecResult{Stdout: "out\n", Stderr: "err\n"}.Output())
	assert.Equal(t, "out\nStderr: err", ExecResult{Stdout: "out", Stderr: "err"}.Output())
	assert.Equal(t, "", ExecResult{}.Output())
}

func TestLocalExecutionEnvironmentFiles(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)
	require.NoError(t, env.Initialize())

	assert.Equal(t, dir, env.ResolvePath(""))
	assert.Equal(t, filepath.Join(dir, "a.txt"), env.ResolvePath("a.txt"))
	abs := filepath.Join(dir, "abs.txt")
	assert.Equal(t, abs, env.ResolvePath(abs))

	assert.False(t, env.FileExists("x/y.txt"))
	require.NoError(t, env.WriteFile("x/y.txt", []byte("data")))
	assert.True(t, env.FileExists("x/y.txt"))

	data, err := env.ReadFile("x/y.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	entries, err := env.ListDirectory("x")
	require.NoError(t, err)
	assert.Equal(t, []DirEntry{{Name: "y.txt", Size: 4}}, entries)
}

func TestLocalExecutionEnvironmentExecEnvVars(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh syntax")
	}
	env := NewLocalExecutionEnvironment(t.TempDir())
	res, err := env.ExecCommand(context.Background(), "echo $GREETING", 5000, map[string]string{"GREETING": "hey"})
	require.NoError(t, err)
	assert.Equal(t, "hey\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	n := EstimateTokens("hello world, this is a short sentence.")
	assert.Positive(t, n)
	assert.Less(t, n, 20)
	assert.Equal(t, n+4, EstimateMessageTokens([]unifiedllm.Message{unifiedllm.UserMessage("hello world, this is a short sentence.")}))
}
