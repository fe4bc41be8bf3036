// Package container manages the Docker workspace container that backs the
// embedded terminal.
package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	imageName     = "agentdeck-workspace:latest"
	containerName = "agentdeck-workspace"
	volumeName    = "agentdeck-workspace-data"
	workingDir    = "/workspace"
	containerUser = "1000"

	stopTimeoutSecs = 10

	// Resource limits keep a runaway agent command from eating the host.
	memoryLimitBytes = 1024 * 1024 * 1024 // 1GB
	cpuQuota         = 100000             // 1 CPU
	pidsLimit        = 512

	defaultCols = 80
	defaultRows = 24

	createRetryAttempts = 10
	createRetryDelay    = 250 * time.Millisecond
)

// Manager defines the interface for the workspace container lifecycle.
type Manager interface {
	// EnsureWorkspace ensures the workspace container exists and is running.
	EnsureWorkspace(ctx context.Context) (string, error)

	// StopWorkspace stops and removes the workspace container.
	StopWorkspace(ctx context.Context) error

	// CreateExecSession starts an interactive shell in the workspace.
	CreateExecSession(ctx context.Context, containerID string) (string, io.ReadWriteCloser, error)

	// ResizeExecSession resizes a running shell session.
	ResizeExecSession(ctx context.Context, execID string, cols, rows uint) error
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli     *client.Client
	runtime string // "" = default (runc), "runsc" = gVisor
}

// NewDockerManager creates a Docker-backed workspace manager.
func NewDockerManager(runtime string) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "runtime", orDefault(runtime))
	return &DockerManager{cli: cli, runtime: runtime}, nil
}

func orDefault(runtime string) string {
	if runtime == "" {
		return "default"
	}
	return runtime
}

// EnsureWorkspace ensures the workspace container exists and is running.
func (m *DockerManager) EnsureWorkspace(ctx context.Context) (string, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerName)
	if err == nil {
		if inspect.State.Running {
			return inspect.ID, nil
		}
		slog.Info("Restarting stopped workspace container", "container_id", inspect.ID)
		if err := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
			return "", fmt.Errorf("restart workspace container %s: %w", inspect.ID, err)
		}
		return inspect.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect workspace container: %w", err)
	}

	slog.Info("Creating workspace container", "image", imageName)

	config := &container.Config{
		Image:      imageName,
		User:       containerUser,
		WorkingDir: workingDir,
		Tty:        true,
	}
	hostConfig := &container.HostConfig{
		Runtime: m.runtime,
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: volumeName,
			Target: workingDir,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create workspace container: %w", createErr)
		}

		// A delayed removal can keep the old named container around briefly.
		slog.Warn("Workspace name conflict during create, retrying",
			"attempt", i+1,
			"error", createErr,
		)
		if inspect, inspectErr := m.cli.ContainerInspect(ctx, containerName); inspectErr == nil {
			if stopErr := m.stopByID(ctx, inspect.ID); stopErr != nil {
				slog.Warn("Failed to stop conflicting container before retry", "container_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create workspace container after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start workspace container %s: %w", resp.ID, err)
	}

	slog.Info("Workspace container started", "container_id", resp.ID)
	return resp.ID, nil
}

// StopWorkspace stops and removes the workspace container. Idempotent.
func (m *DockerManager) StopWorkspace(ctx context.Context) error {
	inspect, err := m.cli.ContainerInspect(ctx, containerName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("inspect workspace container: %w", err)
	}
	return m.stopByID(ctx, inspect.ID)
}

func (m *DockerManager) stopByID(ctx context.Context, containerID string) error {
	slog.Info("Stopping workspace container", "container_id", containerID)

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		if strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("remove workspace container %s: %w", containerID, err)
	}
	return nil
}

// CreateExecSession starts an interactive shell in the workspace container.
func (m *DockerManager) CreateExecSession(ctx context.Context, containerID string) (string, io.ReadWriteCloser, error) {
	execConfig := container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		Cmd:          []string{"/bin/bash"},
		User:         containerUser,
		ConsoleSize:  &[2]uint{defaultCols, defaultRows},
	}

	resp, err := m.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return "", nil, fmt.Errorf("create exec session in container %s: %w", containerID, err)
	}

	attachResp, err := m.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return "", nil, fmt.Errorf("attach to exec session %s: %w", resp.ID, err)
	}

	slog.Info("Exec session created", "exec_id", resp.ID, "container_id", containerID)
	return resp.ID, attachResp.Conn, nil
}

// ResizeExecSession resizes a running shell session.
func (m *DockerManager) ResizeExecSession(ctx context.Context, execID string, cols, rows uint) error {
	if err := m.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	}); err != nil {
		return fmt.Errorf("resize exec session %s to %dx%d: %w", execID, cols, rows, err)
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
