// Package ghostpool provides a container runtime abstraction used by
// cmd/crash-harness to exercise the Restart exit policy against a
// container that is harder to kill cleanly than a plain os/exec child.
package ghostpool

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Backend abstracts the container runtime so the crash harness can run
// against the local Docker daemon without hardcoding its client calls.
type Backend interface {
	CreateContainer(ctx context.Context, image string, cmd []string) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	Wait(ctx context.Context, containerID string) (exitCode int64, err error)
	RemoveContainer(ctx context.Context, containerID string) error
	Name() string
}

// DockerBackend implements Backend against the local Docker socket.
type DockerBackend struct {
	runtime string // e.g. "runsc" for gVisor, "" for the default runtime
}

// NewDockerBackend returns a Backend using the local Docker daemon. Pass a
// non-empty runtime (e.g. "runsc") to run the crash container sandboxed.
func NewDockerBackend(runtime string) *DockerBackend {
	return &DockerBackend{runtime: runtime}
}

func (d *DockerBackend) Name() string {
	if d.runtime != "" {
		return fmt.Sprintf("docker-local/%s", d.runtime)
	}
	return "docker-local"
}

func newClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("ghostpool: docker client: %w", err)
	}
	return cli, nil
}

func (d *DockerBackend) CreateContainer(ctx context.Context, image string, cmd []string) (string, error) {
	cli, err := newClient()
	if err != nil {
		return "", err
	}
	defer cli.Close()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Resources: container.Resources{
			NanoCPUs: 500_000_000,
			Memory:   128 * 1024 * 1024,
		},
	}
	if d.runtime != "" {
		hostConfig.Runtime = d.runtime
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: image,
		Tty:   false,
		Cmd:   cmd,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ghostpool: create container: %w", err)
	}
	return resp.ID, nil
}

func (d *DockerBackend) StartContainer(ctx context.Context, containerID string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()
	return cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{})
}

// Wait blocks until containerID exits, returning its exit code.
func (d *DockerBackend) Wait(ctx context.Context, containerID string) (int64, error) {
	cli, err := newClient()
	if err != nil {
		return 0, err
	}
	defer cli.Close()

	statusCh, errCh := cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("ghostpool: wait container: %w", err)
	case status := <-statusCh:
		return status.StatusCode, nil
	}
}

func (d *DockerBackend) RemoveContainer(ctx context.Context, containerID string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()
	return cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true})
}
