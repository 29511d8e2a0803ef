package process

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/rpc"
)

// State is the lifecycle state of a supervised process.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
)

const (
	// maxLogLines bounds the rolling log.
	maxLogLines = 1000

	// ipcScanLines is how many output lines are offered to the IPC
	// resolver before discovery gives up.
	ipcScanLines = 500


	defaultGracefulTimeout = 10 * time.Second

	// ExitErrorKey is the error-record key used when a process dies on its own.
	ExitErrorKey = "process_exited"
)

// IPCResolver inspects the rolling log and returns the IPC endpoint once it
// has been announced, or "" if not yet known.
type IPCResolver func(logs []string) string

// DataHandler inspects one output line and may emit pluginData, pluginError
// or setAppBadge events for it.
type DataHandler func(line string, emit func(name events.Name, payload any))

// InputHandler inspects one output line and may return input to write to
// the child's stdin (for example a passphrase prompt).
type InputHandler func(line string) (input string, ok bool)

// Config holds configuration for a supervised child.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Env are additional environment variables (key=value format).
	Env []string

	// WorkDir is the working directory for the process.
	WorkDir string

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	ResolveIPC       IPCResolver
	HandleData       DataHandler
	OnInputRequested InputHandler
}

// Supervisor manages the lifecycle of one child process at a time.
type Supervisor struct {
	config Config
	logger Logger
	events *events.Emitter

	mu            sync.RWMutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	channel       *rpc.Channel
	state         State
	logs          []string
	scanned       int
	ipcPath       string
	startTime     time.Time
	stopRequested bool
	done          chan struct{}
	lastError     error

	stdinMu sync.Mutex
}

// New creates a Supervisor in the STOPPED state.
func New(cfg Config) *Supervisor {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		events: events.NewEmitter(),
		state:  StateStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Events returns the emitter carrying this supervisor's events.
func (s *Supervisor) Events() *events.Emitter {
	return s.events
}

// Start spawns the binary with args. It fails with ErrAlreadyRunning while
// another process is STARTING or RUNNING, and with *StartError when the
// spawn fails, in which case the supervisor is back in STOPPED.
//
// ctx only guards the spawn itself; the child outlives it and is ended by Stop.
func (s *Supervisor) Start(ctx context.Context, args []string) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.config.Name)
	}
	s.state = StateStarting
	s.stopRequested = false
	s.logs = nil
	s.scanned = 0
	s.ipcPath = ""
	s.lastError = nil
	s.mu.Unlock()

	s.events.Emit(events.NewState, string(StateStarting))

	if err := s.spawn(ctx, args); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.lastError = err
		s.mu.Unlock()
		s.events.Emit(events.NewState, string(StateStopped))
		return &StartError{Binary: s.config.Binary, Err: err}
	}
	return nil
}

func (s *Supervisor) spawn(ctx context.Context, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Info("starting process",
		"name", s.config.Name,
		"binary", s.config.Binary,
		"args", args,
	)

	cmd := exec.Command(s.config.Binary, args...) //nolint:gosec // Binary comes from the plugin's own release cache
	setProcessGroup(cmd)
	if s.config.Env != nil {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.channel = rpc.NewChannel(&lockedWriter{mu: &s.stdinMu, w: stdin})
	s.state = StateRunning
	s.startTime = time.Now()
	s.done = done
	s.mu.Unlock()

	s.logger.Info("process started", "name", s.config.Name, "pid", cmd.Process.Pid)
	s.events.Emit(events.NewState, string(StateRunning))

	lines := make(chan string, 64)
	var readers sync.WaitGroup
	readers.Add(2)
	go s.readLines(stdout, lines, &readers)
	go s.readLines(stderr, lines, &readers)
	go func() {
		readers.Wait()
		close(lines)
	}()

	go s.pump(cmd, lines, done)
	return nil
}

// readLines splits one stream into lines and forwards them to the pump.
func (s *Supervisor) readLines(r io.Reader, out chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	if err := forEachLine(r, func(line string) { out <- line }); err != nil {
		s.logger.Debug("output stream closed", "name", s.config.Name, "error", err)
	}
}

// forEachLine calls fn for every newline-terminated record of r, plus a final
// unterminated one. Records are not length limited: a node's JSON-RPC reply
// can run to many megabytes.
func forEachLine(r io.Reader, fn func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			fn(strings.TrimSuffix(line, "\n"))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// pump handles lines in arrival order, then reaps the process once both
// streams are drained.
func (s *Supervisor) pump(cmd *exec.Cmd, lines <-chan string, done chan struct{}) {
	for line := range lines {
		s.handleLine(line)
	}

	err := cmd.Wait()

	s.mu.Lock()
	stopRequested := s.stopRequested
	channel := s.channel
	s.cmd = nil
	s.stdin = nil
	s.channel = nil
	s.state = StateStopped
	if !stopRequested {
		s.lastError = err
	}
	s.mu.Unlock()

	if channel != nil {
		channel.Close()
	}

	if stopRequested {
		s.logger.Info("process stopped as requested", "name", s.config.Name)
	} else {
		s.logger.Warn("process exited unexpectedly", "name", s.config.Name, "error", err)
		msg := "process exited"
		if err != nil {
			msg = fmt.Sprintf("process exited: %v", err)
		}
		s.events.Emit(events.Error, msg)
		s.events.Emit(events.PluginError, events.ErrorRecord{Key: ExitErrorKey, Message: msg})
	}
	s.events.Emit(events.NewState, string(StateStopped))

	// Closed last so Stop returns only after observers saw STOPPED.
	close(done)
}

func (s *Supervisor) handleLine(raw string) {
	line := strings.TrimRight(raw, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}

	s.mu.Lock()
	s.logs = append(s.logs, line)
	if len(s.logs) > maxLogLines {
		s.logs = append(s.logs[:0:0], s.logs[len(s.logs)-maxLogLines:]...)
	}
	var snapshot []string
	if s.ipcPath == "" && s.config.ResolveIPC != nil && s.scanned < ipcScanLines {
		s.scanned++
		snapshot = append([]string(nil), s.logs...)
	}
	channel := s.channel
	s.mu.Unlock()

	s.logger.Debug("process output", "name", s.config.Name, "line", line)
	s.events.Emit(events.Log, line)

	if snapshot != nil {
		if path := s.config.ResolveIPC(snapshot); path != "" {
			s.mu.Lock()
			s.ipcPath = path
			s.mu.Unlock()
			s.logger.Info("ipc endpoint discovered", "name", s.config.Name, "path", path)
			s.events.Emit(events.IPCPath, path)
		}
	}

	switch rpc.Classify([]byte(line)) {
	case rpc.KindResponse:
		if channel == nil || !channel.Deliver([]byte(line)) {
			s.logger.Debug("uncorrelated response", "name", s.config.Name)
		}
	case rpc.KindRequest, rpc.KindNotification:
		var in rpc.Incoming
		if err := json.Unmarshal([]byte(line), &in); err == nil {
			s.events.Emit(events.Notification, in)
		}
	case rpc.KindNone:
	}

	if s.config.HandleData != nil {
		s.config.HandleData(line, s.events.Emit)
	}

	if s.config.OnInputRequested != nil {
		if input, ok := s.config.OnInputRequested(line); ok {
			if err := s.Write([]byte(input + "\n")); err != nil {
				s.logger.Warn("writing requested input", "name", s.config.Name, "error", err)
			}
		}
	}
}

// Write sends raw bytes to the child's stdin. It is a no-op when no
// process is RUNNING.
func (s *Supervisor) Write(p []byte) error {
	s.mu.RLock()
	stdin := s.stdin
	running := s.state == StateRunning
	s.mu.RUnlock()

	if !running || stdin == nil {
		return nil
	}

	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	if _, err := stdin.Write(p); err != nil {
		return fmt.Errorf("writing to %s: %w", s.config.Name, err)
	}
	return nil
}

// Call sends a JSON-RPC message over stdio. Without a RUNNING process the
// Result carries rpc.ErrNoActiveProcess.
func (s *Supervisor) Call(ctx context.Context, msg *rpc.Message) rpc.Result {
	s.mu.RLock()
	channel := s.channel
	running := s.state == StateRunning
	s.mu.RUnlock()

	if !running || channel == nil {
		return rpc.Failed(rpc.ErrNoActiveProcess)
	}
	return channel.Call(ctx, msg)
}

// Stop terminates the child: SIGTERM to its process group, then SIGKILL
// after GracefulTimeout. Stopping a STOPPED supervisor is a no-op.
func (s *Supervisor) Stop() error {
	return s.StopContext(context.Background())
}

// StopContext is Stop with the grace period also cut short by ctx: SIGKILL
// is sent as soon as ctx is done.
func (s *Supervisor) StopContext(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped || s.cmd == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	pid := cmd.Process.Pid
	s.logger.Info("stopping process", "name", s.config.Name, "pid", pid)

	if err := terminate(cmd); err != nil {
		s.logger.Warn("failed to send SIGTERM to process group", "name", s.config.Name, "error", err)
	}

	timer := time.NewTimer(s.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("process stopped gracefully", "name", s.config.Name)
		return nil
	case <-timer.C:
		s.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", s.config.Name,
			"timeout", s.config.GracefulTimeout,
		)
	case <-ctx.Done():
		s.logger.Warn("stop deadline reached, sending SIGKILL",
			"name", s.config.Name,
			"error", ctx.Err(),
		)
	}

	if err := kill(cmd); err != nil {
		return fmt.Errorf("killing process group %s: %w", s.config.Name, err)
	}

	<-done
	s.logger.Info("process killed", "name", s.config.Name)
	return nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning returns true if the process is currently running.
func (s *Supervisor) IsRunning() bool {
	return s.State() == StateRunning
}

// Logs returns a copy of the rolling output log, oldest first.
func (s *Supervisor) Logs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.logs...)
}

// IPCPath returns the discovered IPC endpoint, or "".
func (s *Supervisor) IPCPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ipcPath
}

// Done returns a channel closed when the current process exits. It is nil
// before the first successful start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// PID returns the process ID, or 0 if not running.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time summary of the supervised process.
type Stats struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	IPCPath   string        `json:"ipc_path,omitempty"`
	LogLines  int           `json:"log_lines"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:     s.config.Name,
		State:    s.state,
		IPCPath:  s.ipcPath,
		LogLines: len(s.logs),
	}
	if s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
	}
	if s.state == StateRunning {
		stats.Uptime = time.Since(s.startTime)
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}

// lockedWriter shares the stdin mutex between Write and the RPC channel so
// messages never interleave.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
