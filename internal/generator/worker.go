package generator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/developer-mesh/rag-retrieval-core/internal/errs"
	"github.com/developer-mesh/rag-retrieval-core/internal/observability"
)

// Config configures a SubprocessWorker.
type Config struct {
	WorkerPath   string
	ModelPath    string
	StartupWait  time.Duration
	IPCTimeout   time.Duration
	RespawnMaxRetries uint64
}

// SubprocessWorker supervises an external, language-agnostic inference
// process communicating over length-prefixed stdin/stdout frames.
type SubprocessWorker struct {
	cfg     Config
	logger  observability.Logger
	metrics observability.MetricsClient
	breaker *gobreaker.CircuitBreaker

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewSubprocessWorker constructs a SubprocessWorker without starting it;
// call Start to launch the process.
func NewSubprocessWorker(cfg Config, logger observability.Logger, metrics observability.MetricsClient) *SubprocessWorker {
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = 30 * time.Second
	}
	if cfg.IPCTimeout <= 0 {
		cfg.IPCTimeout = 120 * time.Second
	}
	if cfg.RespawnMaxRetries == 0 {
		cfg.RespawnMaxRetries = 2
	}
	if logger == nil {
		logger = observability.NewLogger("generator.worker")
	}
	if metrics == nil {
		metrics = observability.NewMetricsClient()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "generator.worker",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		Timeout: 30 * time.Second,
	})

	return &SubprocessWorker{cfg: cfg, logger: logger, metrics: metrics, breaker: breaker}
}

// Start launches the worker process and blocks until it signals readiness
// by writing exactly "READY" as its first stdout line.
func (w *SubprocessWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked(ctx)
}

func (w *SubprocessWorker) startLocked(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.cfg.WorkerPath, w.cfg.ModelPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to open worker stdin: %v", errs.ErrWorkerStartup, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to open worker stdout: %v", errs.ErrWorkerStartup, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start worker process: %v", errs.ErrWorkerStartup, err)
	}

	reader := bufio.NewReader(stdout)
	readyCh := make(chan error, 1)
	go func() {
		line, err := reader.ReadString('\n')
		if err != nil {
			readyCh <- fmt.Errorf("%w: failed to read readiness line: %v", errs.ErrWorkerStartup, err)
			return
		}
		if strings.TrimSpace(line) != readyMessage {
			readyCh <- fmt.Errorf("%w: unexpected startup output %q", errs.ErrWorkerStartup, line)
			return
		}
		readyCh <- nil
	}()

	select {
	case err := <-readyCh:
		if err != nil {
			_ = cmd.Process.Kill()
			return err
		}
	case <-time.After(w.cfg.StartupWait):
		_ = cmd.Process.Kill()
		return fmt.Errorf("%w: worker did not become ready within %s", errs.ErrWorkerStartup, w.cfg.StartupWait)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = reader

	w.logger.Info("generator worker started", map[string]interface{}{"model_path": w.cfg.ModelPath})
	return nil
}

// stopGracePeriod is how long Stop waits for SIGTERM to take effect before
// escalating to SIGKILL, per SPEC_FULL.md §4.7.
const stopGracePeriod = 5 * time.Second

// Stop terminates the worker process, giving it stopGracePeriod to exit
// after SIGTERM before escalating to SIGKILL.
func (w *SubprocessWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopLocked()
}

func (w *SubprocessWorker) stopLocked() error {
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if err := w.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill worker process: %w", err)
		}
		<-done
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(stopGracePeriod):
		w.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL", nil)
		if err := w.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill worker process: %w", err)
		}
		<-done
		return nil
	}
}

// Complete sends prompt to the worker and returns its raw completion,
// protected by a circuit breaker and a bounded respawn-and-retry policy.
func (w *SubprocessWorker) Complete(ctx context.Context, prompt string) (string, error) {
	operation := func() (string, error) {
		raw, err := w.breaker.Execute(func() (interface{}, error) {
			return w.completeOnce(ctx, prompt)
		})
		if err != nil {
			return "", err
		}
		return raw.(string), nil
	}

	var result string
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), w.cfg.RespawnMaxRetries)
	err := backoff.Retry(func() error {
		r, err := operation()
		if err != nil {
			w.logger.Warn("generator completion failed, respawning worker", map[string]interface{}{"error": err.Error()})
			w.metrics.IncrementCounter("generator_respawn_total", 1)
			if restartErr := w.restart(ctx); restartErr != nil {
				return backoff.Permanent(restartErr)
			}
			return err
		}
		result = r
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		return "", fmt.Errorf("generator completion failed: %w", err)
	}
	return result, nil
}

func (w *SubprocessWorker) restart(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	return w.startLocked(ctx)
}

func (w *SubprocessWorker) completeOnce(ctx context.Context, prompt string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	stdin, stdout := w.stdin, w.stdout

	if stdin == nil || stdout == nil {
		return "", fmt.Errorf("%w: worker not started", errs.ErrWorkerStartup)
	}

	if err := writeFrame(stdin, prompt); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrWorkerProtocol, err)
	}

	type frameResult struct {
		payload string
		err     error
	}
	resultCh := make(chan frameResult, 1)
	go func() {
		payload, err := readFrame(stdout)
		resultCh <- frameResult{payload: payload, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return "", fmt.Errorf("%w: %v", errs.ErrWorkerProtocol, r.err)
		}
		if strings.HasPrefix(r.payload, "ERROR:") {
			return "", fmt.Errorf("%w: %s", errs.ErrWorkerError, strings.TrimPrefix(r.payload, "ERROR:"))
		}
		return r.payload, nil
	case <-time.After(w.cfg.IPCTimeout):
		return "", errs.ErrWorkerTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
