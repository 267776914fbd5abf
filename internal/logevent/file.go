package logevent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultPollInterval = time.Second

// FileSource tails an append-only log file from its end at start time. It
// follows truncation and the rename-and-recreate rotation of logs/latest.log.
type FileSource struct {
	Path string
	// WaitForFile makes a missing file a wait instead of an error.
	WaitForFile bool
	// PollInterval backs up filesystem notifications, which can be coalesced or lost.
	PollInterval time.Duration
	Logger       *zap.Logger

	mu       sync.Mutex
	pending  *os.File
	stop     chan struct{}
	stopOnce sync.Once
}

func NewFileSource(path string, waitForFile bool) *FileSource {
	return &FileSource{
		Path:         path,
		WaitForFile:  waitForFile,
		PollInterval: defaultPollInterval,
		Logger:       zap.NewNop(),
		stop:         make(chan struct{}),
	}
}

// Open positions the file at its current end so that only lines written
// afterwards are delivered. A missing file is an error unless WaitForFile is set.
func (s *FileSource) Open() error {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && s.WaitForFile {
			s.Logger.Info("log file does not exist yet, waiting", zap.String("path", s.Path))
			return nil
		}
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return fmt.Errorf("seek log file: %w", err)
	}
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Close()
	}
	s.pending = f
	s.mu.Unlock()
	return nil
}

func (s *FileSource) Run(ctx context.Context, fn func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(s.Path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.Path), err)
	}

	s.mu.Lock()
	f := s.pending
	s.pending = nil
	s.mu.Unlock()
	if f == nil {
		// Run without Init: position at the end now.
		if err := s.Open(); err != nil {
			return err
		}
		s.mu.Lock()
		f, s.pending = s.pending, nil
		s.mu.Unlock()
	}

	stopped := func() bool {
		select {
		case <-s.stop:
			return true
		default:
			return ctx.Err() != nil
		}
	}
	t := &tailer{path: s.Path, fn: fn, stopped: stopped}
	defer t.detach()
	if f != nil {
		offset, _ := f.Seek(0, io.SeekCurrent)
		t.attach(f, offset)
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	target := filepath.Clean(s.Path)
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				s.Logger.Debug("log file recreated", zap.String("path", s.Path))
				err = t.reopen()
			case ev.Has(fsnotify.Write):
				err = t.drain()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", s.Path, werr)
		case <-ticker.C:
			err = t.poll()
		}
		if err != nil {
			return err
		}
	}
}

func (s *FileSource) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		err := s.pending.Close()
		s.pending = nil
		return err
	}
	return nil
}

// tailer reads complete lines from the current file handle, holding back a
// trailing partial line until its newline arrives.
type tailer struct {
	path    string
	fn      func(string)
	stopped func() bool

	f       *os.File
	r       *bufio.Reader
	offset  int64
	partial string
}

func (t *tailer) attach(f *os.File, offset int64) {
	t.detach()
	t.f = f
	t.r = bufio.NewReader(f)
	t.offset = offset
	t.partial = ""
}

func (t *tailer) detach() {
	if t.f != nil {
		t.f.Close()
	}
	t.f, t.r = nil, nil
}

// reopen switches to the file now at path, reading it from the start. An
// unterminated last line of the old file is delivered first; nothing more
// will be appended to it.
func (t *tailer) reopen() error {
	if err := t.drain(); err != nil {
		return err
	}
	if t.current() {
		return nil
	}
	if t.partial != "" && !t.stopped() {
		line := strings.TrimSuffix(t.partial, "\r")
		t.partial = ""
		t.fn(line)
	}
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			t.detach()
			return nil
		}
		return fmt.Errorf("reopen log file: %w", err)
	}
	t.attach(f, 0)
	return t.drain()
}

// current reports whether the held handle is still the file at path.
func (t *tailer) current() bool {
	if t.f == nil {
		return false
	}
	cur, err := os.Stat(t.path)
	if err != nil {
		return false
	}
	held, err := t.f.Stat()
	return err == nil && os.SameFile(cur, held)
}

func (t *tailer) poll() error {
	if t.f == nil {
		f, err := os.Open(t.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("open log file: %w", err)
		}
		t.attach(f, 0)
		return t.drain()
	}

	cur, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return t.drain()
		}
		return fmt.Errorf("stat log file: %w", err)
	}
	held, err := t.f.Stat()
	if err != nil {
		return fmt.Errorf("stat open log file: %w", err)
	}
	switch {
	case !os.SameFile(cur, held):
		return t.reopen()
	case cur.Size() < t.offset:
		if _, err := t.f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind truncated log file: %w", err)
		}
		t.r.Reset(t.f)
		t.offset = 0
		t.partial = ""
	}
	return t.drain()
}

func (t *tailer) drain() error {
	if t.r == nil {
		return nil
	}
	for !t.stopped() {
		line, err := t.r.ReadString('\n')
		t.offset += int64(len(line))
		if errors.Is(err, io.EOF) {
			t.partial += line
			return nil
		}
		if err != nil {
			return fmt.Errorf("read log file: %w", err)
		}
		line = t.partial + line
		t.partial = ""
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		t.fn(line)
	}
	return nil
}
