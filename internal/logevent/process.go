package logevent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// maxLineLength bounds a single log line; stack traces can be long.
const maxLineLength = 1 << 20

// ProcessSource reads lines from an attached process's standard output, such
// as exec.Cmd.StdoutPipe or os.Stdin when the server is piped in. It never
// starts or stops the process.
type ProcessSource struct {
	r         io.ReadCloser
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewProcessSource(stdout io.ReadCloser) *ProcessSource {
	return &ProcessSource{r: stdout}
}

func (s *ProcessSource) Run(ctx context.Context, fn func(string)) error {
	err := scanLines(ctx, s.r, fn)
	if s.closed.Load() {
		return nil
	}
	return err
}

// Close closes the stream, which unblocks a pending read.
func (s *ProcessSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.r.Close()
	})
	return s.closeErr
}

// scanLines delivers newline-terminated lines from r. End of stream is
// reported as ErrSourceEnded; cancellation as nil.
func scanLines(ctx context.Context, r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineLength)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fn(sc.Text())
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read lines: %w", err)
	}
	return ErrSourceEnded
}
