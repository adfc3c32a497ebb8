// Package docker launches kernels inside a Jupyter Server container.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/nstogner/nbtool/pkg/kernel"
	"github.com/nstogner/nbtool/pkg/kernel/jupyter"
)

const (
	DefaultImage = "quay.io/jupyter/base-notebook:latest"
	ServerPort   = "8888"

	labelManaged = "nbtool.managed"
	labelSpec    = "nbtool.kernel-spec"
)

// Launcher runs one Jupyter Server container per kernel session.
type Launcher struct {
	cli   *client.Client
	image string
	specs []string
}

var _ kernel.Launcher = (*Launcher)(nil)

// New creates a Launcher using the docker environment (DOCKER_HOST etc).
// specs is the kernelspec catalog reported by ListSpecs.
func New(image string, specs []string) (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if image == "" {
		image = DefaultImage
	}
	if len(specs) == 0 {
		specs = []string{"python3"}
	}
	return &Launcher{cli: cli, image: image, specs: specs}, nil
}

func (l *Launcher) Close() error {
	return l.cli.Close()
}

// ListSpecs returns the configured catalog. The image is not started just
// to list its kernels.
func (l *Launcher) ListSpecs(ctx context.Context) ([]string, error) {
	return append([]string(nil), l.specs...), nil
}

// Launch starts a container, waits for its server to answer, then starts
// the kernel inside it.
func (l *Launcher) Launch(ctx context.Context, spec string) (kernel.Session, error) {
	if err := l.ensureImage(ctx); err != nil {
		return nil, err
	}

	token := uuid.NewString()
	id, port, err := l.createAndStart(ctx, spec, token)
	if err != nil {
		return nil, err
	}

	sess, err := l.connect(ctx, spec, token, port)
	if err != nil {
		l.remove(id)
		return nil, err
	}
	slog.Info("Kernel container started", "spec", spec, "container", shortID(id), "port", port)
	return &session{Session: sess, launcher: l, containerID: id}, nil
}

func (l *Launcher) connect(ctx context.Context, spec, token, port string) (kernel.Session, error) {
	c, err := jupyter.NewClient("http://127.0.0.1:"+port, token)
	if err != nil {
		return nil, err
	}
	if err := waitForHealth(ctx, c); err != nil {
		return nil, err
	}
	return c.Launch(ctx, spec)
}

func (l *Launcher) ensureImage(ctx context.Context) error {
	_, _, err := l.cli.ImageInspectWithRaw(ctx, l.image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", l.image, err)
	}

	slog.Info("Pulling kernel image", "image", l.image)
	rc, err := l.cli.ImagePull(ctx, l.image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", l.image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", l.image, err)
	}
	return nil
}

func (l *Launcher) createAndStart(ctx context.Context, spec, token string) (string, string, error) {
	cfg := &container.Config{
		Image: l.image,
		Cmd: []string{
			"jupyter", "server",
			"--ServerApp.ip=0.0.0.0",
			"--ServerApp.port=" + ServerPort,
			"--ServerApp.open_browser=False",
			"--IdentityProvider.token=" + token,
		},
		ExposedPorts: nat.PortSet{
			nat.Port(ServerPort + "/tcp"): {},
		},
		Labels: map[string]string{
			labelManaged: "true",
			labelSpec:    spec,
		},
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(ServerPort + "/tcp"): []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
	}

	name := "nbtool-kernel-" + uuid.NewString()[:8]
	resp, err := l.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", "", fmt.Errorf("creating container: %w", err)
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		l.remove(resp.ID)
		return "", "", fmt.Errorf("starting container: %w", err)
	}

	c, err := l.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		l.remove(resp.ID)
		return "", "", fmt.Errorf("inspecting container: %w", err)
	}
	port, err := hostPort(c)
	if err != nil {
		l.remove(resp.ID)
		return "", "", err
	}
	return resp.ID, port, nil
}

func (l *Launcher) remove(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := l.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		slog.Warn("Failed to remove kernel container", "container", id, "error", err)
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func hostPort(c types.ContainerJSON) (string, error) {
	ports := c.NetworkSettings.Ports[nat.Port(ServerPort+"/tcp")]
	if len(ports) > 0 {
		return ports[0].HostPort, nil
	}
	return "", fmt.Errorf("container running but port not mapped")
}

// waitForHealth polls the server status endpoint until it answers.
func waitForHealth(ctx context.Context, c *jupyter.Client) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for jupyter server: %w", ctx.Err())
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err == nil {
				return nil
			}
			slog.Debug("Jupyter server not ready", "error", err)
		}
	}
}

// session removes its container after the kernel is shut down.
type session struct {
	kernel.Session
	launcher    *Launcher
	containerID string
}

func (s *session) Err() error { return kernel.SessionErr(s.Session) }

func (s *session) Shutdown(ctx context.Context) error {
	kerr := s.Session.Shutdown(ctx)
	rerr := s.launcher.remove(s.containerID)
	return errors.Join(kerr, rerr)
}
