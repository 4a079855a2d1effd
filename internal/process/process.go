// Package process spawns the external tunnel CLIs and owns their lifetime.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	psprocess "github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// Spec describes a command to run
type Spec struct {
	Name string
	Args []string
	Env  []string
	Dir  string

	// Secrets are masked when the command line is printed
	Secrets []string
}

// String renders the command line with secrets masked
func (s Spec) String() string {
	parts := append([]string{s.Name}, s.Args...)
	line := strings.Join(parts, " ")
	for _, secret := range s.Secrets {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, "****")
		}
	}
	return line
}

// Process is a running child process
type Process interface {
	// Pid returns the OS process id
	Pid() int

	// Output returns the merged stdout and stderr stream. It must be
	// drained for as long as the process runs.
	Output() io.Reader

	// Kill terminates the process and its children. It is idempotent and
	// safe to call after the process has exited.
	Kill() error

	// Wait blocks until the process exits and returns its exit error
	Wait() error

	// Done is closed once the process has exited
	Done() <-chan struct{}
}

// Spawner starts processes
type Spawner interface {
	Spawn(spec Spec) (Process, error)
}

// ExecSpawner starts real OS processes. Process lifetime is not tied to any
// context: a tunnel outlives the call that started it.
type ExecSpawner struct{}

// Spawn starts the command described by spec
func (ExecSpawner) Spawn(spec Spec) (Process, error) {
	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir

	// The same writer for both streams means exec copies them with a
	// single goroutine, so lines never interleave mid-write
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}

	p := &execProcess{
		cmd:  cmd,
		out:  pr,
		done: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		pw.Close()
		close(p.done)
	}()

	log.WithFields(log.Fields{
		"pid":     cmd.Process.Pid,
		"command": spec.String(),
	}).Debug("Spawned process")

	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	out  *io.PipeReader
	done chan struct{}

	mu       sync.Mutex
	waitErr  error
	killOnce sync.Once
	killErr  error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Output() io.Reader { return p.out }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *execProcess) Kill() error {
	p.killOnce.Do(func() {
		select {
		case <-p.done:
			// Already exited
		default:
			p.killErr = KillTree(p.cmd.Process.Pid)
			if p.killErr != nil {
				// Fall back to the direct child
				if err := p.cmd.Process.Kill(); err == nil || errors.Is(err, os.ErrProcessDone) {
					p.killErr = nil
				}
			}
		}
		// Unblock the copy goroutine if nobody is reading any more
		p.out.Close()
	})
	return p.killErr
}

// KillTree kills pid and all of its descendants, children first
func KillTree(pid int) error {
	proc, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		// Process no longer exists
		return nil
	}

	children, _ := proc.Children()
	for _, child := range children {
		if err := KillTree(int(child.Pid)); err != nil {
			log.WithError(err).WithField("pid", child.Pid).Debug("Failed to kill child process")
		}
	}

	if err := proc.Kill(); err != nil {
		if running, _ := proc.IsRunning(); !running {
			return nil
		}
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}

// ExitError describes how a process ended, for error messages
func ExitError(p Process) error {
	select {
	case <-p.Done():
		if err := p.Wait(); err != nil {
			return fmt.Errorf("process exited: %w", err)
		}
		return errors.New("process exited")
	default:
		return nil
	}
}
