package logevent

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

const (
	defaultHookBuffer = 256
	maxHookBody       = 1 << 20
)

// HookSource receives log lines POSTed by a shell pipeline on the game host,
// e.g. `tail -F logs/latest.log | while read l; do curl -d "$l" .../minecraft/hook; done`.
// Requests never wait on classification: a full buffer is answered with 503.
type HookSource struct {
	// OnFull, if set, is called when a request is refused for lack of buffer space.
	OnFull func()

	lines    chan string
	stop     chan struct{}
	stopOnce sync.Once
}

func NewHookSource(buffer int) *HookSource {
	if buffer <= 0 {
		buffer = defaultHookBuffer
	}
	return &HookSource{
		lines: make(chan string, buffer),
		stop:  make(chan struct{}),
	}
}

// ServeHTTP accepts one or more newline-separated lines in the request body.
func (s *HookSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		select {
		case <-s.stop:
			http.Error(w, "line source closed", http.StatusServiceUnavailable)
			return
		default:
		}
		select {
		case s.lines <- line:
		default:
			if s.OnFull != nil {
				s.OnFull()
			}
			http.Error(w, "line buffer full", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HookSource) Run(ctx context.Context, fn func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case line := <-s.lines:
			fn(line)
		}
	}
}

func (s *HookSource) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
