// Package terminal runs per-user shells and one-shot commands on the local
// host, each confined to a working directory under a shared root.
package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Options configure the local service.
type Options struct {
	WorkRoot       string
	Shell          string
	ExecTimeout    time.Duration
	MaxOutputBytes int
}

func DefaultOptions() Options {
	return Options{
		WorkRoot:       "./workspaces",
		Shell:          "/bin/sh",
		ExecTimeout:    10 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
}

// Service is the local interfaces.TerminalService.
type Service struct {
	opts Options

	mu        sync.Mutex
	terminals map[types.TerminalKey]*shell
}

var _ interfaces.TerminalService = (*Service)(nil)

type shell struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	size  types.TerminalSize
	done  chan struct{}
}

func NewService(opts Options) *Service {
	def := DefaultOptions()
	if opts.WorkRoot == "" {
		opts.WorkRoot = def.WorkRoot
	}
	if opts.Shell == "" {
		opts.Shell = def.Shell
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = def.ExecTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = def.MaxOutputBytes
	}
	return &Service{
		opts:      opts,
		terminals: make(map[types.TerminalKey]*shell),
	}
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// workDir returns (and creates) the directory owned by key.
func (s *Service) workDir(key types.TerminalKey) (string, error) {
	code := unsafeSegment.ReplaceAllString(key.SessionCode, "_")
	user := unsafeSegment.ReplaceAllString(key.UserID, "_")
	if code == "" || user == "" || code == "." || code == ".." || user == "." || user == ".." {
		return "", fmt.Errorf("%w: bad terminal key", interfaces.ErrInvalidTerminalIO)
	}
	dir := filepath.Join(s.opts.WorkRoot, code, user)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, nil
}

// CreateTerminal starts an interactive shell. Output and exit are reported to
// sink from background goroutines; the shell outlives ctx.
func (s *Service) CreateTerminal(ctx context.Context, key types.TerminalKey, size types.TerminalSize, sink interfaces.TerminalSink) error {
	dir, err := s.workDir(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.terminals[key]; exists {
		return interfaces.ErrTerminalExists
	}

	cmd := exec.Command(s.opts.Shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"TERM=dumb",
		fmt.Sprintf("COLUMNS=%d", size.Cols),
		fmt.Sprintf("LINES=%d", size.Rows),
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin: %w", err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("failed to start shell: %w", err)
	}

	sh := &shell{cmd: cmd, stdin: stdin, size: size, done: make(chan struct{})}
	s.terminals[key] = sh
	log.Printf("Terminal started: room=%s user=%s pid=%d", key.SessionCode, key.UserID, cmd.Process.Pid)

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		buf := make([]byte, 4096)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				sink.TerminalOutput(key, chunk)
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		waitErr := cmd.Wait()
		_ = pw.Close()
		<-copied
		close(sh.done)

		s.mu.Lock()
		if s.terminals[key] == sh {
			delete(s.terminals, key)
		}
		s.mu.Unlock()

		code := exitCode(cmd, waitErr)
		log.Printf("Terminal exited: room=%s user=%s code=%d", key.SessionCode, key.UserID, code)
		sink.TerminalExit(key, code)
	}()
	return nil
}

func (s *Service) lookup(key types.TerminalKey) (*shell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.terminals[key]
	if !ok {
		return nil, interfaces.ErrTerminalNotFound
	}
	return sh, nil
}

func (s *Service) WriteToTerminal(key types.TerminalKey, data []byte) error {
	sh, err := s.lookup(key)
	if err != nil {
		return err
	}
	if _, err := sh.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to terminal: %w", err)
	}
	return nil
}

// ResizeTerminal records the new grid. Shells run without a pty, so the size
// only reaches programs started after the change through COLUMNS/LINES.
func (s *Service) ResizeTerminal(key types.TerminalKey, size types.TerminalSize) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.terminals[key]
	if !ok {
		return interfaces.ErrTerminalNotFound
	}
	sh.size = size
	return nil
}

// KillTerminal stops the shell. The exit is still reported to the sink.
func (s *Service) KillTerminal(key types.TerminalKey) error {
	s.mu.Lock()
	sh, ok := s.terminals[key]
	if ok {
		delete(s.terminals, key)
	}
	s.mu.Unlock()
	if !ok {
		return interfaces.ErrTerminalNotFound
	}

	_ = sh.stdin.Close()
	if err := sh.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill terminal: %w", err)
	}
	return nil
}

// Size reports the last recorded grid of a running terminal.
func (s *Service) Size(key types.TerminalKey) (types.TerminalSize, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.terminals[key]
	if !ok {
		return types.TerminalSize{}, false
	}
	return sh.size, true
}

// Len is the number of running terminals.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.terminals)
}

// Shutdown kills every terminal and waits for their exits to be reported.
func (s *Service) Shutdown() {
	s.mu.Lock()
	shells := make([]*shell, 0, len(s.terminals))
	for key, sh := range s.terminals {
		shells = append(shells, sh)
		delete(s.terminals, key)
	}
	s.mu.Unlock()

	for _, sh := range shells {
		_ = sh.stdin.Close()
		_ = sh.cmd.Process.Kill()
		<-sh.done
	}
}

// ExecuteCommand runs one command without a shell. The line is split with
// shell quoting rules; no expansion, pipes or redirection happen.
func (s *Service) ExecuteCommand(ctx context.Context, key types.TerminalKey, command string) (*types.ExecResult, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidTerminalIO, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command", interfaces.ErrInvalidTerminalIO)
	}

	dir, err := s.workDir(key)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ExecTimeout)
	defer cancel()

	stdout := &limitedBuffer{max: s.opts.MaxOutputBytes}
	stderr := &limitedBuffer{max: s.opts.MaxOutputBytes}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	started := time.Now()
	runErr := cmd.Run()
	result := &types.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started).Milliseconds(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if runErr != nil && cmd.ProcessState == nil {
		// Never started (not found or not executable): report like a shell would
		result.ExitCode = 127
		result.Stderr = runErr.Error()
		return result, nil
	}
	result.ExitCode = exitCode(cmd, runErr)
	return result, nil
}

// SyncFiles writes files into the user's work dir. Paths must be relative and
// stay inside it.
func (s *Service) SyncFiles(ctx context.Context, key types.TerminalKey, files []types.WorkspaceFile) error {
	dir, err := s.workDir(key)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := confine(dir, f.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return nil
}

func confine(root, path string) (string, error) {
	clean := filepath.FromSlash(path)
	if path == "" || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: path %q escapes the workspace", interfaces.ErrInvalidTerminalIO, path)
	}
	return filepath.Join(root, clean), nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
		// Killed by a signal
		return -1
	}
	if err != nil {
		return -1
	}
	return 0
}

// limitedBuffer keeps the first max bytes and discards the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
