package streams

import (
	"context"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type fakeProcess struct {
	cmd  Command
	pid  int
	diag string

	out *io.PipeReader
	w   *io.PipeWriter

	done       chan struct{}
	once       sync.Once
	terminated atomic.Bool
}

func (p *fakeProcess) exit() {
	p.once.Do(func() {
		close(p.done)
		if p.w != nil {
			p.w.Close()
		}
	})
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Stdout() io.Reader {
	if p.out == nil {
		return nil
	}
	return p.out
}

func (p *fakeProcess) Diagnostics() string   { return p.diag }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Terminate(time.Duration) error {
	p.terminated.Store(true)
	p.exit()
	return nil
}

// fakeSpawner records every command. fail and die select commands that fail
// to start or exit immediately with the returned diagnostics.
type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess

	fail    func(Command) error
	die     func(Command) string
	onSpawn func(Command)
}

func (s *fakeSpawner) Spawn(_ context.Context, c Command) (Process, error) {
	if s.onSpawn != nil {
		s.onSpawn(c)
	}
	if s.fail != nil {
		if err := s.fail(c); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakeProcess{cmd: c, pid: 1000 + len(s.procs), done: make(chan struct{})}
	if c.Stdout {
		p.out, p.w = io.Pipe()
	}
	s.procs = append(s.procs, p)
	if s.die != nil {
		if diag := s.die(c); diag != "" {
			p.diag = diag
			p.exit()
		}
	}
	return p, nil
}

func (s *fakeSpawner) started(name string) []*fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeProcess
	for _, p := range s.procs {
		if p.cmd.Name == name {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeSpawner) last(name string) *fakeProcess {
	ps := s.started(name)
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func hasArgs(args []string, want ...string) bool {
	for i := range args {
		if i+len(want) <= len(args) && slices.Equal(args[i:i+len(want)], want) {
			return true
		}
	}
	return false
}
