package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/book-expert/logger"
)

const (
	readyPollInterval = 500 * time.Millisecond
	stopGracePeriod   = 5 * time.Second
	maxStderrTail     = 4096
)

// ErrEngineNotReady indicates the engine did not answer before the ready timeout.
var ErrEngineNotReady = errors.New("engine did not become ready")

// LaunchOptions describes an engine subprocess.
type LaunchOptions struct {
	BinaryPath    string
	CoreDir       string
	PresetsPath   string
	BaseURL       string
	UseGPU        bool
	LoadAllModels bool
	ReadyTimeout  time.Duration
}

// Process is a running engine subprocess.
type Process struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	done   chan struct{}
	err    error
}

// Launch starts the engine binary and blocks until it answers on BaseURL
// or the ready timeout expires. On failure the subprocess is stopped.
func Launch(ctx context.Context, opts LaunchOptions, log *logger.Logger) (*Process, error) {
	args, err := launchArgs(opts)
	if err != nil {
		return nil, err
	}

	// #nosec G204 -- binary path and arguments come from trusted configuration
	cmd := exec.Command(opts.BinaryPath, args...)
	cmd.Dir = opts.CoreDir

	stderr := &tailBuffer{limit: maxStderrTail}
	cmd.Stdout = os.Stdout
	cmd.Stderr = stderr

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start engine binary '%s': %w", opts.BinaryPath, err)
	}

	proc := &Process{cmd: cmd, stderr: stderr, done: make(chan struct{})}

	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()

	log.Info("Started engine process pid=%d args=%v", cmd.Process.Pid, args)

	err = proc.waitReady(ctx, NewClient(opts.BaseURL, nil), opts.ReadyTimeout)
	if err != nil {
		stopErr := proc.Stop()
		if stopErr != nil {
			log.Warn("Failed to stop engine process after failed start: %v", stopErr)
		}

		return nil, err
	}

	return proc, nil
}

func launchArgs(opts LaunchOptions) ([]string, error) {
	endpoint, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid engine url '%s': %w", opts.BaseURL, err)
	}

	host, port, err := net.SplitHostPort(endpoint.Host)
	if err != nil {
		return nil, fmt.Errorf("engine url '%s' must include a port: %w", opts.BaseURL, err)
	}

	args := []string{"--host", host, "--port", port, "--voicelib_dir", opts.CoreDir}
	if opts.UseGPU {
		args = append(args, "--use_gpu")
	}

	if opts.LoadAllModels {
		args = append(args, "--load_all_models")
	}

	if opts.PresetsPath != "" {
		args = append(args, "--preset_file", opts.PresetsPath)
	}

	return args, nil
}

func (p *Process) waitReady(ctx context.Context, client *Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		_, err := client.Version(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-p.done:
			return fmt.Errorf("engine process exited before ready: %v: %s", p.err, p.stderr.String())
		case <-ctx.Done():
			return fmt.Errorf("%w within %s: %w", ErrEngineNotReady, timeout, err)
		case <-ticker.C:
		}
	}
}

// Stop interrupts the engine and kills it if it has not exited after a grace period.
func (p *Process) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	err := p.cmd.Process.Signal(os.Interrupt)
	if err != nil {
		return p.kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(stopGracePeriod):
		return p.kill()
	}
}

func (p *Process) kill() error {
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill engine process: %w", err)
	}

	<-p.done

	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)

	if overflow := t.buf.Len() - t.limit; overflow > 0 {
		t.buf.Next(overflow)
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.buf.String()
}
