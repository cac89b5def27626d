package docker

import (
	"github.com/sakif/python-sandbox/internal/executor/bootstrap"
)

// Config holds the configuration for Docker-hosted interpreters.
type Config struct {
	// Image is the Docker image to use for execution. It must provide python.
	Image string
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// NetworkMode is passed to the container. "none" disables networking,
	// which also makes requirement installs from a remote index fail.
	NetworkMode string
	// TmpfsSize bounds the writable /tmp (installed packages live there).
	TmpfsSize string
	// PullImage pulls Image when the launcher is created.
	PullImage bool
	// Index selects where requirements are installed from. A wheelhouse is
	// bind-mounted read-only at /wheels.
	Index bootstrap.Index
}

// DefaultConfig provides sensible defaults for a Python sandbox.
func DefaultConfig() Config {
	return Config{
		// Debian based so manylinux wheels install without compiling
		Image: "python:3.12-slim",
		// 256 MB memory limit
		MemoryLimit: 256 * 1024 * 1024,
		// 0.5 CPU shares
		CPULimit: 0.5,
		// Requirements are fetched from the index, so the container needs a network
		NetworkMode: "bridge",
		TmpfsSize:   "256m",
		PullImage:   true,
		Index:       bootstrap.ResolveIndex(),
	}
}
