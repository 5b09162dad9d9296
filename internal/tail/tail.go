package tail

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Follower tails append-only log files, one goroutine per file. Files that
// do not exist yet are polled for and picked up once created; a file
// already being followed is never started twice.
type Follower struct {
	log          *slog.Logger
	pollInterval time.Duration
	idleSleep    time.Duration

	mu      sync.Mutex
	workers map[string]context.CancelFunc
}

func NewFollower(logger *slog.Logger) *Follower {
	return &Follower{
		log:          logger,
		pollInterval: 5 * time.Second,
		idleSleep:    500 * time.Millisecond,
		workers:      map[string]context.CancelFunc{},
	}
}

// Watch blocks until path exists, then follows it, sending each appended
// line to out in file order. Lines written before the follow loop attaches
// are skipped: following starts at the current end of file. Returns
// immediately if the path is already being followed.
func (f *Follower) Watch(ctx context.Context, path string, out chan<- string) {
	f.mu.Lock()
	if _, ok := f.workers[path]; ok {
		f.mu.Unlock()
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	f.workers[path] = cancel
	f.mu.Unlock()

	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.workers, path)
			f.mu.Unlock()
		}()
		f.waitForFile(wctx, path)
		if wctx.Err() != nil {
			return
		}
		f.follow(wctx, path, out)
	}()
}

// Following reports whether a tail loop is attached to path.
func (f *Follower) Following(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.workers[path]
	return ok
}

func (f *Follower) waitForFile(ctx context.Context, path string) {
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.pollInterval):
		}
	}
}

func (f *Follower) follow(ctx context.Context, path string, out chan<- string) {
	f.log.Info("start tail", "path", path)
	defer f.log.Info("stop tail", "path", path)

	file, err := os.Open(path)
	if err != nil {
		f.log.Warn("open log file", "path", path, "err", err)
		return
	}
	defer func() { _ = file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		f.log.Warn("seek log file", "path", path, "err", err)
		return
	}

	reader := bufio.NewReader(file)
	var partial []byte
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			offset += int64(len(line))
		}
		if err == nil {
			full := append(partial, line[:len(line)-1]...)
			partial = nil
			select {
			case out <- string(full):
			case <-ctx.Done():
				return
			}
			continue
		}
		if err != io.EOF {
			f.log.Warn("read log file", "path", path, "err", err)
			return
		}
		// Incomplete trailing line: keep it until the writer finishes it.
		partial = append(partial, line...)

		if reopened, nf, noff := f.maybeReopen(path, file, offset); reopened {
			_ = file.Close()
			file, offset = nf, noff
			reader = bufio.NewReader(file)
			partial = nil
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.idleSleep):
		}
	}
}

// maybeReopen handles truncation and rotation: if the file shrank below our
// offset, or the path now names a different file, reopen from the start.
func (f *Follower) maybeReopen(path string, current *os.File, offset int64) (bool, *os.File, int64) {
	st, err := os.Stat(path)
	if err != nil {
		return false, nil, 0
	}
	cst, err := current.Stat()
	if err == nil && os.SameFile(st, cst) && st.Size() >= offset {
		return false, nil, 0
	}
	nf, err := os.Open(path)
	if err != nil {
		return false, nil, 0
	}
	f.log.Info("log file rotated or truncated, reopening", "path", path)
	return true, nf, 0
}
