// Package process runs isolated interpreters as local python3 child
// processes.
//
// Isolation here is process-level only: the interpreter gets its own
// address space, a private working directory that is deleted on teardown,
// and a scrubbed environment. Use the docker backend when untrusted code
// must not see the host filesystem or network.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sakif/python-sandbox/internal/executor"
	"github.com/sakif/python-sandbox/internal/executor/bootstrap"
)

// waitDelay bounds how long teardown waits for the interpreter's pipes to
// drain after the kill.
const waitDelay = 2 * time.Second

// Config holds the settings for local interpreters.
type Config struct {
	// Python is the interpreter binary, looked up in PATH.
	Python string
	// Index selects where requirements are installed from.
	Index bootstrap.Index
	// Env is appended to the minimal environment the interpreter receives.
	Env []string
}

// DefaultConfig uses python3 from PATH and resolves the package index from
// the environment.
func DefaultConfig() Config {
	return Config{
		Python: "python3",
		Index:  bootstrap.ResolveIndex(),
	}
}

// Launcher starts one python process per execution context.
type Launcher struct {
	config Config
	logger *slog.Logger
}

var _ executor.Launcher = (*Launcher)(nil)

// New checks that the interpreter exists and returns a Launcher.
func New(cfg Config, logger *slog.Logger) (*Launcher, error) {
	path, err := exec.LookPath(cfg.Python)
	if err != nil {
		return nil, fmt.Errorf("process: locating %s: %w", cfg.Python, err)
	}
	cfg.Python = path
	return &Launcher{config: cfg, logger: logger}, nil
}

// Launch starts a fresh interpreter running the bootstrap loop.
func (l *Launcher) Launch(ctx context.Context) (executor.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "pysandbox-*")
	if err != nil {
		return nil, fmt.Errorf("process: creating work dir: %w", err)
	}

	siteDir := filepath.Join(workDir, "site-packages")
	env := []string{
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"PATH=" + os.Getenv("PATH"),
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
	}
	env = append(env, bootstrap.Env(l.config.Index.PipArgs(""), siteDir)...)
	env = append(env, l.config.Env...)

	// Not exec.CommandContext: ctx only bounds the launch, while the
	// process outlives it and is killed through Terminate.
	cmd := exec.Command(l.config.Python, "-u", "-c", bootstrap.Source)
	cmd.Dir = workDir
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	// A plain io.Writer makes Wait copy stderr until every holder of the
	// pipe exits, including children the user code spawned. The process
	// group kill reaches those, and WaitDelay bounds anything that escaped
	// the group.
	cmd.Stderr = executor.NewLogWriter(l.logger, "python stderr")
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("process: starting %s: %w", l.config.Python, err)
	}

	p := &proc{cmd: cmd, workDir: workDir, logger: l.logger}
	l.logger.Debug("python process started", slog.Int("pid", cmd.Process.Pid), slog.String("dir", workDir))

	return executor.NewStreamChannel(executor.StreamConfig{
		Stdin:  stdin,
		Stdout: stdout,
		Kill:   p.kill,
		Exited: p.exited,
	}), nil
}

// proc tracks one child so that Wait runs exactly once whichever of
// kill/exited gets there first.
type proc struct {
	cmd     *exec.Cmd
	workDir string
	logger  *slog.Logger

	waitOnce sync.Once
	waitErr  error
}

func (p *proc) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		if err := os.RemoveAll(p.workDir); err != nil {
			p.logger.Warn("removing work dir", slog.String("dir", p.workDir), slog.String("error", err.Error()))
		}
	})
	return p.waitErr
}

// kill destroys the interpreter together with everything it started.
func (p *proc) kill() error {
	if err := killProcessGroup(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("process: killing pid %d: %w", p.cmd.Process.Pid, err)
	}
	_ = p.wait()
	return nil
}

func (p *proc) exited() error {
	if err := p.wait(); err != nil {
		return fmt.Errorf("python process exited: %w", err)
	}
	return fmt.Errorf("python process exited: %w", executor.ErrChannelClosed)
}
