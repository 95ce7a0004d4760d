package codeagent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

const (
	promptPlaceholder = "{prompt}"
	modelPlaceholder  = "{model}"
	maxStderr         = 4 << 10
)

// CLIConfig configures the external command backend
type CLIConfig struct {
	// Command is the argv; "{prompt}" and "{model}" are substituted per run
	Command []string
	// WorkDir holds one working directory per session and channel
	WorkDir string
}

// ValidateCLIConfig validates the CLIConfig
func ValidateCLIConfig(config CLIConfig) error {
	if len(config.Command) == 0 {
		return errors.New("agent command is required")
	}
	if config.WorkDir == "" {
		return errors.New("agent work directory is required")
	}
	return nil
}

// CLIAgent runs a code agent as an external process, streaming its standard
// output line by line. Files the process creates or modifies in its working
// directory are reported as results.
type CLIAgent struct {
	config CLIConfig
	logger *zap.Logger
}

// NewCLIAgent creates a new command backend
func NewCLIAgent(config CLIConfig, logger *zap.Logger) (*CLIAgent, error) {
	if err := ValidateCLIConfig(config); err != nil {
		return nil, err
	}
	return &CLIAgent{
		config: config,
		logger: logger.With(zap.String("component", "cli-agent")),
	}, nil
}

func (a *CLIAgent) args(req repositories.AgentRequest) []string {
	out := make([]string, 0, len(a.config.Command))
	hasPrompt := false
	for _, arg := range a.config.Command {
		if strings.Contains(arg, promptPlaceholder) {
			hasPrompt = true
		}
		arg = strings.ReplaceAll(arg, promptPlaceholder, req.Prompt)
		arg = strings.ReplaceAll(arg, modelPlaceholder, req.Model)
		out = append(out, arg)
	}
	if !hasPrompt {
		out = append(out, req.Prompt)
	}
	return out
}

// Run implements repositories.CodeAgent
func (a *CLIAgent) Run(ctx context.Context, req repositories.AgentRequest, onOutput func(string)) (repositories.AgentResult, error) {
	dir := filepath.Join(a.config.WorkDir, filepath.Base(req.SessionID), strconv.Itoa(req.Channel))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return repositories.AgentResult{}, fmt.Errorf("failed to create work directory: %w", err)
	}
	started := time.Now()

	argv := a.args(req)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"KANAL_SESSION_ID="+req.SessionID,
		"KANAL_CHANNEL="+strconv.Itoa(req.Channel),
		"KANAL_ATTACHMENTS="+strings.Join(req.Attachments, "\n"),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return repositories.AgentResult{}, fmt.Errorf("failed to open stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, max: maxStderr}

	if err := cmd.Start(); err != nil {
		return repositories.AgentResult{}, fmt.Errorf("failed to start agent: %w", err)
	}

	a.logger.Info("Agent process started",
		zap.String("sessionID", req.SessionID),
		zap.Int("channel", req.Channel),
		zap.String("command", argv[0]),
		zap.Int("pid", cmd.Process.Pid))

	var output strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		output.WriteString(line)
		if onOutput != nil {
			onOutput(line)
		}
	}
	// Drain whatever the scanner could not consume so Wait does not block.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return repositories.AgentResult{}, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return repositories.AgentResult{}, fmt.Errorf("%w: %s", err, msg)
		}
		return repositories.AgentResult{}, err
	}

	files, err := changedFiles(dir, started)
	if err != nil {
		a.logger.Warn("Failed to list produced files", zap.String("dir", dir), zap.Error(err))
	}

	a.logger.Info("Agent process finished",
		zap.String("sessionID", req.SessionID),
		zap.Int("channel", req.Channel),
		zap.Duration("duration", time.Since(started)),
		zap.Int("files", len(files)))

	return repositories.AgentResult{
		Output: strings.TrimRight(output.String(), "\n"),
		Files:  files,
	}, nil
}

// changedFiles lists regular files under dir modified at or after since.
func changedFiles(dir string, since time.Time) ([]string, error) {
	// Filesystem timestamps can be coarser than the clock.
	since = since.Truncate(time.Second)
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() && !info.ModTime().Before(since) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
