// Package command runs the external SDR toolchain programs and streams their
// output line by line.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Output stream names passed to line callbacks.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// tailLines is how many trailing output lines a Result keeps.
const tailLines = 50

var commandContext = exec.CommandContext

// Spec describes one external program invocation.
type Spec struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env entries (KEY=VALUE) are appended to the inherited environment.
	Env []string
	// Grace is how long the process has to exit after SIGTERM before it is killed.
	Grace time.Duration
}

// Result is the outcome of a finished invocation.
type Result struct {
	ExitCode int
	Duration time.Duration
	// Tail holds the last lines of combined stdout and stderr.
	Tail []string
}

// Executor runs external programs.
type Executor interface {
	// Run blocks until the program exits. The error is nil iff it exited 0.
	Run(ctx context.Context, spec Spec, onLine func(stream, line string)) (Result, error)
}

// Exec is the os/exec backed Executor.
type Exec struct{}

// Run starts the program and waits for it. Cancelling ctx sends SIGTERM and
// kills the process after spec.Grace.
func (Exec) Run(ctx context.Context, spec Spec, onLine func(stream, line string)) (Result, error) {
	cmd := commandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = spec.Grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("stderr pipe: %w", err)
	}

	tail := newTail(tailLines)
	emit := func(stream, line string) {
		tail.add(line)
		if onLine != nil {
			onLine(stream, line)
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scan(stdout, Stdout, emit)
	}()
	go func() {
		defer wg.Done()
		scan(stderr, Stderr, emit)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
		Tail:     tail.lines(),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && ctx.Err() == nil {
			return res, fmt.Errorf("%s exited with code %d", spec.Name, res.ExitCode)
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s interrupted: %w", spec.Name, ctx.Err())
		}
		return res, fmt.Errorf("wait %s: %w", spec.Name, waitErr)
	}
	return res, nil
}

func scan(r io.Reader, stream string, emit func(stream, line string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		emit(stream, sc.Text())
	}
}

// tail keeps the last n lines written to it.
type tail struct {
	mu  sync.Mutex
	n   int
	buf []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
}

func (t *tail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.buf...)
}

// CheckBinaries reports every program that cannot be found on PATH.
func CheckBinaries(names ...string) error {
	var missing []error
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(missing...)
}
