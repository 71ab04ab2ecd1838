package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// DockerRunner runs each batch in a fresh container. The input and output
// directories are bind-mounted, so the image needs no storage credentials.
type DockerRunner struct {
	client  *client.Client
	image   string
	command []string
	logger  *slog.Logger
}

// NewDockerRunner creates a runner for the given image and command.
func NewDockerRunner(imageName string, command []string) (*DockerRunner, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRunner{
		client:  dockerClient,
		image:   imageName,
		command: command,
		logger:  slog.With("component", "runtime"),
	}, nil
}

// Run executes one batch container and waits for it to exit. A non-zero exit
// code is an error; the container is always removed afterwards.
func (r *DockerRunner) Run(ctx context.Context, spec RunSpec) error {
	if err := r.pullImageIfNeeded(ctx); err != nil {
		return fmt.Errorf("pull image %s: %w", r.image, err)
	}

	env := make([]string, 0, len(spec.Env)+2)
	env = append(env,
		fmt.Sprintf("BATCH_ID=%s", spec.BatchID),
		fmt.Sprintf("INPUT_DIR=%s", ContainerInputDir),
		fmt.Sprintf("OUTPUT_DIR=%s", ContainerOutputDir),
	)
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	containerConfig := &container.Config{
		Image: r.image,
		Cmd:   r.command,
		Env:   env,
		Labels: map[string]string{
			"batch.id":   spec.BatchID,
			"managed-by": "batchfleet",
		},
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: spec.InputDir,
				Target: ContainerInputDir,
			},
			{
				Type:   mount.TypeBind,
				Source: spec.OutputDir,
				Target: ContainerOutputDir,
			},
		},
	}

	containerName := fmt.Sprintf("batchfleet-%s-%d", spec.BatchID, time.Now().UnixNano())
	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	defer r.removeContainer(resp.ID)

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	r.logger.Info("Batch container started", "batchId", spec.BatchID, "container", containerName)

	exitCode, err := r.waitForExit(ctx, resp.ID)
	if err != nil {
		return fmt.Errorf("wait for container: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("batch command exited with code %d", exitCode)
	}
	return nil
}

func (r *DockerRunner) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (r *DockerRunner) pullImageIfNeeded(ctx context.Context) error {
	_, err := r.client.ImageInspect(ctx, r.image)
	if err == nil {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// removeContainer force-removes the batch container. Uses a fresh context so
// cleanup still runs when the batch context is already canceled.
func (r *DockerRunner) removeContainer(containerID string) {
	const stopTimeout = 10

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := stopTimeout
	_ = r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	_ = r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

var _ Runner = (*DockerRunner)(nil)
