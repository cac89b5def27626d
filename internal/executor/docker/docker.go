// Package docker runs isolated interpreters inside Docker containers.
//
// Each execution context is one container running the bootstrap loop with
// stdin held open. We attach to it before starting it, write requests to the
// hijacked connection and demultiplex its output with stdcopy: stdout carries
// protocol lines, stderr is interpreter noise that goes to the log.
//
// The container is read-only except for a tmpfs /tmp, runs as nobody, and
// is force-removed on teardown.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/python-sandbox/internal/executor"
	"github.com/sakif/python-sandbox/internal/executor/bootstrap"
)

const (
	wheelMount = "/wheels"
	siteDir    = "/tmp/site-packages"
)

// Launcher implements executor.Launcher using Docker.
type Launcher struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
}

var _ executor.Launcher = (*Launcher)(nil)

// New creates a new Docker Launcher and initializes the connection.
func New(cfg Config, logger *slog.Logger) (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	if cfg.PullImage {
		// Make sure the image is pulled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
		reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
		if err != nil {
			cli.Close()
			return nil, fmt.Errorf("docker: pulling image: %w", err)
		}
		defer reader.Close()
		// Read everything to block until the pull is complete
		if _, err := io.Copy(io.Discard, reader); err != nil {
			cli.Close()
			return nil, fmt.Errorf("docker: pulling image: %w", err)
		}
		logger.Info("docker image is ready")
	}

	return &Launcher{cli: cli, config: cfg, logger: logger}, nil
}

// Close releases the docker client. Live containers are owned by their
// channels and removed through Terminate.
func (l *Launcher) Close() error {
	return l.cli.Close()
}

// Launch creates, attaches and starts a container running the bootstrap.
func (l *Launcher) Launch(ctx context.Context) (executor.Channel, error) {
	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(l.config.NetworkMode),
		Resources: container.Resources{
			Memory:   l.config.MemoryLimit,
			NanoCPUs: int64(l.config.CPULimit * 1e9),
		},
		AutoRemove: false,
		// Ensure filesystem is read-only except /tmp
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,exec,size=" + l.config.TmpfsSize,
		},
	}

	pipArgs := l.config.Index.PipArgs("")
	if l.config.Index.Wheelhouse != "" {
		hostPath, err := filepath.Abs(l.config.Index.Wheelhouse)
		if err != nil {
			return nil, fmt.Errorf("docker: resolving wheelhouse: %w", err)
		}
		hostConfig.Binds = []string{hostPath + ":" + wheelMount + ":ro"}
		pipArgs = l.config.Index.PipArgs(wheelMount)
	}

	env := append([]string{"HOME=/tmp", "PYTHONDONTWRITEBYTECODE=1"}, bootstrap.Env(pipArgs, siteDir)...)

	resp, err := l.cli.ContainerCreate(ctx, &container.Config{
		Image:        l.config.Image,
		Cmd:          []string{"python", "-u", "-c", bootstrap.Source},
		Env:          env,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		User:         "nobody",
	}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("docker: ContainerCreate failed: %w", err)
	}

	c := &containerHandle{cli: l.cli, id: resp.ID, logger: l.logger.With(slog.String("container", shortID(resp.ID)))}

	// Attach before start so no output is lost.
	attach, err := l.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		c.remove()
		return nil, fmt.Errorf("docker: ContainerAttach failed: %w", err)
	}
	c.attach = attach

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		c.remove()
		return nil, fmt.Errorf("docker: ContainerStart failed: %w", err)
	}

	// Use stdcopy to demultiplex stdout from stderr
	stdout, stdoutW := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, executor.NewLogWriter(c.logger, "container stderr"), attach.Reader)
		stdoutW.CloseWithError(err)
	}()

	c.logger.Debug("container started")

	return executor.NewStreamChannel(executor.StreamConfig{
		Stdin:  halfCloser{attach: &c.attach},
		Stdout: stdout,
		Kill:   c.kill,
		Exited: c.exited,
	}), nil
}

// containerHandle is one running sandbox container.
type containerHandle struct {
	cli    *client.Client
	id     string
	logger *slog.Logger
	attach types.HijackedResponse

	removeOnce sync.Once
}

func (c *containerHandle) kill() error {
	c.attach.Close()
	return c.remove()
}

// remove force removes the container.
func (c *containerHandle) remove() error {
	var err error
	c.removeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = c.cli.ContainerRemove(ctx, c.id, container.RemoveOptions{
			Force: true,
		})
		if err != nil {
			c.logger.Error("failed to remove container", slog.String("error", err.Error()))
			err = fmt.Errorf("docker: removing container %s: %w", shortID(c.id), err)
		}
	})
	return err
}

// exited explains why the container's output stream ended.
func (c *containerHandle) exited() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := c.cli.ContainerInspect(ctx, c.id)
	if err != nil || info.ContainerJSONBase == nil || info.State == nil {
		return fmt.Errorf("container %s stopped: %w", shortID(c.id), executor.ErrChannelClosed)
	}
	if info.State.OOMKilled {
		return fmt.Errorf("container %s killed: out of memory", shortID(c.id))
	}
	return fmt.Errorf("container %s exited with code %d", shortID(c.id), info.State.ExitCode)
}

// halfCloser closes only the write side of the hijacked connection, so the
// container sees EOF on stdin while we can still read its output.
type halfCloser struct {
	attach *types.HijackedResponse
}

func (h halfCloser) Write(p []byte) (int, error) {
	return h.attach.Conn.Write(p)
}

func (h halfCloser) Close() error {
	return h.attach.CloseWrite()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
