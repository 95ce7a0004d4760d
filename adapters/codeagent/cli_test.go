package codeagent

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

var (
	_ repositories.CodeAgent = &CLIAgent{}
	_ repositories.CodeAgent = &EchoAgent{}
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCLIAgentStreamsOutputAndReportsFiles(t *testing.T) {
	requireShell(t)
	workDir := t.TempDir()
	agent, err := NewCLIAgent(CLIConfig{
		Command: []string{"sh", "-c", `echo "model={model}"; echo "$1" > out.txt; echo "$KANAL_CHANNEL"`, "agent", "{prompt}"},
		WorkDir: workDir,
	}, zap.NewNop())
	require.NoError(t, err)

	var chunks []string
	result, err := agent.Run(context.Background(), repositories.AgentRequest{
		SessionID: "sess",
		Channel:   3,
		Prompt:    "write it",
		Model:     "small",
	}, func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"model=small\n", "3\n"}, chunks)
	assert.Equal(t, "model=small\n3", result.Output)
	require.Len(t, result.Files, 1)
	assert.Equal(t, filepath.Join(workDir, "sess", "3", "out.txt"), result.Files[0])
}

func TestCLIAgentFailureCarriesStderr(t *testing.T) {
	requireShell(t)
	agent, err := NewCLIAgent(CLIConfig{
		Command: []string{"sh", "-c", "echo broken >&2; exit 3"},
		WorkDir: t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), repositories.AgentRequest{SessionID: "s", Channel: 1, Prompt: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestCLIAgentAppendsPromptWithoutPlaceholder(t *testing.T) {
	agent := &CLIAgent{config: CLIConfig{Command: []string{"agent", "--yes"}}}
	args := agent.args(repositories.AgentRequest{Prompt: "do it"})
	assert.Equal(t, []string{"agent", "--yes", "do it"}, args)
}

func TestValidateCLIConfig(t *testing.T) {
	assert.Error(t, ValidateCLIConfig(CLIConfig{}))
	assert.Error(t, ValidateCLIConfig(CLIConfig{Command: []string{"x"}}))
	assert.NoError(t, ValidateCLIConfig(CLIConfig{Command: []string{"x"}, WorkDir: "/tmp"}))
}

func TestEchoAgent(t *testing.T) {
	var out strings.Builder
	result, err := NewEchoAgent().Run(context.Background(), repositories.AgentRequest{
		Channel:     2,
		Prompt:      "hi",
		Attachments: []string{"/files/a.png"},
	}, func(s string) { out.WriteString(s) })
	require.NoError(t, err)
	assert.Equal(t, "channel 2: hi\nattached a.png", result.Output)
	assert.Equal(t, "channel 2: hi\nattached a.png\n", out.String())
}
