package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
)

// Process is a running daemon child.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Launcher starts daemon processes.
type Launcher interface {
	Launch(binary string, args []string) (Process, error)
}

// ExecLauncher starts the daemon found on PATH with os/exec.
type ExecLauncher struct{}

func (ExecLauncher) Launch(binary string, args []string) (Process, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %q was not found in PATH (%s); install aria2 or set TDL_DAEMON_BINARY",
			errpkg.ErrProcessSpawnFailed, binary, os.Getenv("PATH"))
	}

	cmd := exec.Command(path, args...)
	// stdio stays detached from the terminal the UI owns.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errpkg.ErrProcessSpawnFailed, path, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *execProcess) Done() <-chan struct{} { return p.done }

// ExitErr is the result of Wait once Done is closed.
func (p *execProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
