// Package transport owns the agent subprocess and its standard streams,
// exposing raw protocol lines as an ordered event stream.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vimcodex/vimcodex/internal/common/logger"
)

var (
	// ErrSpawn is returned when the agent executable cannot be resolved or started
	ErrSpawn = errors.New("agent process could not be started")
	// ErrPipeClosed is returned when writing to a transport whose process is gone
	ErrPipeClosed = errors.New("agent stdin pipe is closed")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("transport already started")
)

const (
	defaultStopGrace    = 5 * time.Second
	defaultQueueSize    = 256
	defaultMaxLineBytes = 1024 * 1024
)

// Config controls subprocess spawning and stream handling
type Config struct {
	Command      string
	Args         []string
	StopGrace    time.Duration
	QueueSize    int
	MaxLineBytes int
}

// ExitStatus describes how the agent process ended
type ExitStatus struct {
	Code int
	Err  error
}

// Event is one item read from the agent process: a raw protocol line, or
// the terminal exit record (Exit non-nil). After the exit record the event
// channel is closed.
type Event struct {
	Line []byte
	Exit *ExitStatus
}

// Transport owns one agent subprocess. Lines written via WriteLine are
// framed with a trailing newline; inbound stdout lines are delivered in
// emission order on a bounded channel.
type Transport struct {
	cfg    Config
	logger *logger.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool

	events chan Event
	waitCh chan struct{}
	exit   ExitStatus
}

// New creates a transport for the given agent command
func New(cfg Config, log *logger.Logger) *Transport {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	return &Transport{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "transport")),
		events: make(chan Event, cfg.QueueSize),
		waitCh: make(chan struct{}),
	}
}

// Start spawns the agent process with stdio redirected to pipes. The
// context bounds only the start call; the process lifetime is owned by
// Stop and the process's own exit, never by the caller's context.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSpawn, t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	t.logger.Info("agent process started",
		zap.String("command", t.cfg.Command),
		zap.Strings("args", t.cfg.Args),
		zap.Int("pid", cmd.Process.Pid))

	go t.drainStderr(stderr)
	go t.readLoop(stdout)

	return nil
}

// Events returns the inbound event stream. The channel is closed after the
// terminal exit event has been delivered.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// WriteLine writes one framed outbound message plus terminator
func (t *Transport) WriteLine(data []byte) error {
	t.mu.Lock()
	stdin := t.stdin
	started := t.started
	t.mu.Unlock()

	if !started || stdin == nil {
		return ErrPipeClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, data...)
	framed = append(framed, '\n')

	if _, err := stdin.Write(framed); err != nil {
		return fmt.Errorf("%w: %v", ErrPipeClosed, err)
	}

	t.logger.Debug("sent line", zap.ByteString("data", data))
	return nil
}

// Running reports whether the agent process is still alive
func (t *Transport) Running() bool {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-t.waitCh:
		return false
	default:
		return true
	}
}

// Stop terminates the agent process: interrupt signal first, then a forced
// kill after the grace period. Safe to call multiple times and from any
// state; never hangs past grace plus context deadline.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cmd := t.cmd
	started := t.started
	t.mu.Unlock()

	if !started || cmd == nil {
		return nil
	}

	select {
	case <-t.waitCh:
		return nil // already exited
	default:
	}

	t.logger.Info("stopping agent process", zap.Int("pid", cmd.Process.Pid))

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.logger.Debug("interrupt signal failed", zap.Error(err))
	}

	select {
	case <-t.waitCh:
		return nil
	case <-time.After(t.cfg.StopGrace):
	case <-ctx.Done():
	}

	t.logger.Warn("agent process did not exit within grace period, killing",
		zap.Duration("grace", t.cfg.StopGrace))

	if err := cmd.Process.Kill(); err != nil {
		t.logger.Debug("kill failed", zap.Error(err))
	}

	select {
	case <-t.waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop reads stdout lines until EOF, then reaps the process and emits
// the terminal exit event. Single reader: emission order is preserved.
func (t *Transport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, t.cfg.MaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer between calls
		out := make([]byte, len(line))
		copy(out, line)

		t.logger.Debug("received line", zap.ByteString("data", out))
		t.events <- Event{Line: out}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Error("stdout read error", zap.Error(err))
	}

	status := ExitStatus{}
	if err := t.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
		} else {
			status.Code = -1
		}
		status.Err = err
	}

	t.mu.Lock()
	t.exit = status
	t.mu.Unlock()
	close(t.waitCh)

	t.logger.Info("agent process exited", zap.Int("exit_code", status.Code))

	t.events <- Event{Exit: &status}
	close(t.events)
}

// drainStderr logs subprocess stderr noise instead of discarding it
func (t *Transport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	buf := make([]byte, 0, 16*1024)
	scanner.Buffer(buf, t.cfg.MaxLineBytes)
	for scanner.Scan() {
		t.logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
}
