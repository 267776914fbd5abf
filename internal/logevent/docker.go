package logevent

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// LogFollower opens a following, demultiplexed log stream for a container.
type LogFollower interface {
	FollowLogs(ctx context.Context, containerID string) (io.ReadCloser, error)
}

// DockerSource reads lines from a container's stdout/stderr, starting at the
// time Run is called.
type DockerSource struct {
	follower    LogFollower
	containerID string

	mu     sync.Mutex
	stream io.ReadCloser
	closed bool
}

func NewDockerSource(follower LogFollower, containerID string) *DockerSource {
	return &DockerSource{follower: follower, containerID: containerID}
}

func (s *DockerSource) Run(ctx context.Context, fn func(string)) error {
	stream, err := s.follower.FollowLogs(ctx, s.containerID)
	if err != nil {
		return fmt.Errorf("follow container %s: %w", s.containerID, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stream.Close()
		return nil
	}
	s.stream = stream
	s.mu.Unlock()
	defer stream.Close()

	err = scanLines(ctx, stream, fn)
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	return err
}

func (s *DockerSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}
