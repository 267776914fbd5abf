// Package docker wraps the Docker Engine API calls the bridge needs when the
// game server runs in a container: following its logs and finding its ports.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// ErrPortNotPublished is returned when a container port has no host binding.
var ErrPortNotPublished = errors.New("docker: port not published")

type Client struct {
	cli *client.Client
}

func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) InspectContainer(ctx context.Context, id string) (*types.ContainerJSON, error) {
	resp, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ContainerStatus(ctx context.Context, id string) (string, error) {
	resp, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "unknown", err
	}
	return resp.State.Status, nil
}

// FollowLogs streams the container's stdout and stderr from now on. The
// returned reader carries plain text whether or not the container has a TTY.
func (c *Client) FollowLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	inspect, err := c.InspectContainer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	logs, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "0",
	})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	if inspect.Config != nil && inspect.Config.Tty {
		return logs, nil
	}
	return Demux(logs), nil
}

// Demux strips the 8-byte stream headers Docker adds to non-TTY log streams,
// merging stdout and stderr. Closing the result closes src.
func Demux(src io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, src)
		pw.CloseWithError(err)
	}()
	return &demuxed{PipeReader: pr, src: src}
}

type demuxed struct {
	*io.PipeReader
	src io.Closer
}

func (d *demuxed) Close() error {
	d.PipeReader.Close()
	return d.src.Close()
}

// PublishedPort returns the host port bound to containerPort/tcp.
func (c *Client) PublishedPort(ctx context.Context, id string, containerPort int) (int, error) {
	inspect, err := c.InspectContainer(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.NetworkSettings == nil {
		return 0, fmt.Errorf("%w: %d/tcp has no network settings", ErrPortNotPublished, containerPort)
	}
	return HostPort(inspect.NetworkSettings.Ports, containerPort)
}

// HostPort looks up the first host binding of containerPort/tcp in ports.
func HostPort(ports nat.PortMap, containerPort int) (int, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(containerPort))
	if err != nil {
		return 0, fmt.Errorf("docker: %w", err)
	}
	for _, b := range ports[port] {
		if b.HostPort == "" {
			continue
		}
		n, err := strconv.Atoi(b.HostPort)
		if err != nil {
			return 0, fmt.Errorf("docker: host port %q: %w", b.HostPort, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrPortNotPublished, port)
}
