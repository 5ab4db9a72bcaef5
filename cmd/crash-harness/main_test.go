package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	creates int
	exitAt  []int64
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) CreateContainer(ctx context.Context, image string, cmd []string) (string, error) {
	f.creates++
	return "c", nil
}

func (f *fakeBackend) StartContainer(ctx context.Context, containerID string) error { return nil }

func (f *fakeBackend) Wait(ctx context.Context, containerID string) (int64, error) {
	code := f.exitAt[f.creates-1]
	return code, nil
}

func (f *fakeBackend) RemoveContainer(ctx context.Context, containerID string) error { return nil }

func TestRunCompletesRequestedCycles(t *testing.T) {
	backend := &fakeBackend{exitAt: []int64{1, 1, 0, 1, 1}}
	err := runDockerScenario(context.Background(), backend, "alpine", []string{"sh", "-c", "exit 1"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, backend.creates)
}

type failingCreateBackend struct{}

func (failingCreateBackend) Name() string { return "failing" }
func (failingCreateBackend) CreateContainer(ctx context.Context, image string, cmd []string) (string, error) {
	return "", errors.New("docker: daemon unreachable")
}
func (failingCreateBackend) StartContainer(ctx context.Context, containerID string) error { return nil }
func (failingCreateBackend) Wait(ctx context.Context, containerID string) (int64, error) {
	return 0, nil
}
func (failingCreateBackend) RemoveContainer(ctx context.Context, containerID string) error {
	return nil
}

func TestRunStopsOnBackendError(t *testing.T) {
	err := runDockerScenario(context.Background(), failingCreateBackend{}, "alpine", []string{"sh", "-c", "exit 1"}, 3)
	require.Error(t, err)
}
