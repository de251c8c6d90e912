package gdal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

const (
	// tailSize is how many output lines a process keeps.
	tailSize = 50

	// maxPartialLine flushes an unterminated line that grows past this.
	maxPartialLine = 4096
)

var _ driven.ProcessHandle = (*process)(nil)

// process is a running bulk copy. A single reader goroutine drains the
// combined output, then reaps the process, so Poll never blocks.
type process struct {
	cmd   *exec.Cmd
	label string

	activity atomic.Int64
	done     chan struct{}

	mu    sync.Mutex
	state domain.ProcessState
	tail  []string
}

func startProcess(cmd *exec.Cmd, label string) (*process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	p := &process{
		cmd:   cmd,
		label: label,
		done:  make(chan struct{}),
		state: domain.ProcessState{Phase: domain.ProcessRunning},
	}
	go p.run(pr)
	return p, nil
}

func (p *process) run(r io.ReadCloser) {
	defer close(p.done)

	p.drain(r)
	r.Close()

	err := p.cmd.Wait()
	state := exitState(p.cmd.ProcessState, err)
	if state.Phase == domain.ProcessExited && state.ExitCode == -1 && err != nil {
		p.record(err.Error())
	}

	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// drain reads output until EOF. Progress ticks arrive without line
// breaks, so activity counts bytes rather than lines.
func (p *process) drain(r io.Reader) {
	buf := make([]byte, 32*1024)
	var partial strings.Builder

	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.activity.Add(int64(n))
			for _, b := range buf[:n] {
				if b == '\n' || b == '\r' {
					p.line(partial.String())
					partial.Reset()
					continue
				}
				partial.WriteByte(b)
				if partial.Len() >= maxPartialLine {
					p.line(partial.String())
					partial.Reset()
				}
			}
		}
		if err != nil {
			break
		}
	}
	p.line(partial.String())
}

func (p *process) line(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	p.record(s)

	switch {
	case strings.Contains(s, "ERROR"):
		logger.Error("[%s] %s", p.label, s)
	case strings.Contains(s, "WARNING"):
		logger.Warn("[%s] %s", p.label, s)
	default:
		logger.Debug("[%s] %s", p.label, s)
	}
}

func (p *process) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, s)
	if len(p.tail) > tailSize {
		p.tail = p.tail[len(p.tail)-tailSize:]
	}
}

// exitState maps a reaped process to a domain state.
func exitState(ps *os.ProcessState, err error) domain.ProcessState {
	if ps == nil {
		return domain.ProcessState{Phase: domain.ProcessExited, ExitCode: -1}
	}
	code := ps.ExitCode()
	if code == -1 {
		return domain.ProcessState{Phase: domain.ProcessSignaled, ExitCode: -1, Signal: ps.String()}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && code == 0 {
		return domain.ProcessState{Phase: domain.ProcessExited, ExitCode: -1}
	}
	return domain.ProcessState{Phase: domain.ProcessExited, ExitCode: code}
}

// Poll returns the current state without blocking.
func (p *process) Poll() domain.ProcessState {
	select {
	case <-p.done:
	default:
		return domain.ProcessState{Phase: domain.ProcessRunning}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cancel interrupts the process. It does not wait for it to exit.
func (p *process) Cancel() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		// Interrupt is not available everywhere.
		return p.Kill()
	}
	return nil
}

// Kill stops the process immediately.
func (p *process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Activity returns the number of output bytes read so far.
func (p *process) Activity() int64 {
	return p.activity.Load()
}

// Tail returns up to n of the last output lines.
func (p *process) Tail(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || len(p.tail) == 0 {
		return nil
	}
	if n > len(p.tail) {
		n = len(p.tail)
	}
	out := make([]string, n)
	copy(out, p.tail[len(p.tail)-n:])
	return out
}
