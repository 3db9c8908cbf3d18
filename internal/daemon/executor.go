package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"time"
)

// maxOutputSize caps captured worker stdout/stderr (10MB each).
const maxOutputSize = 10 * 1024 * 1024

// WorkerTimeout represents a worker invocation killed at the wall-clock
// bound. Counts toward the retry budget like any other failure; kept
// distinct so logs can tell the two apart.
type WorkerTimeout struct {
	// RequestID identifies the record being executed.
	RequestID string

	// Timeout is the bound that was hit.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *WorkerTimeout) Error() string {
	return fmt.Sprintf("worker timed out after %s executing request %s", e.Timeout, e.RequestID)
}

// IsWorkerTimeout returns true if the error is a worker timeout.
// Uses errors.As to handle wrapped errors.
func IsWorkerTimeout(err error) bool {
	var wt *WorkerTimeout
	return errors.As(err, &wt)
}

// WorkerFailure represents a worker that exited non-zero.
type WorkerFailure struct {
	// RequestID identifies the record being executed.
	RequestID string

	// ExitCode is the worker's exit code (-1 when it could not start).
	ExitCode int

	// Stderr is the captured standard error, truncated for storage.
	Stderr string
}

// Error implements the error interface.
func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("worker exited with code %d executing request %s", e.ExitCode, e.RequestID)
}

// IsWorkerFailure returns true if the error is a non-zero worker exit.
// Uses errors.As to handle wrapped errors.
func IsWorkerFailure(err error) bool {
	var wf *WorkerFailure
	return errors.As(err, &wf)
}

// invokeWorker runs the external worker as a subprocess.
//
// The subprocess is:
//   - Bounded by the configured wall-clock timeout via context (a timed-out
//     worker's process tree is killed; its file-system side effects are left
//     in place for human inspection, never rolled back)
//   - Run in the repository root
//   - Fed the task payload via stdin (pipe closed after write)
//   - Output captured with a 10MB limit on stdout and stderr
//
// Returns captured stdout on success. Failure is a WorkerTimeout or a
// WorkerFailure; both count toward the retry budget identically.
func (e *Engine) invokeWorker(ctx context.Context, requestID, payload string) (string, error) {
	if len(e.cfg.Daemon.Command) == 0 {
		return "", fmt.Errorf("worker command array is empty")
	}

	timeout := time.Duration(e.cfg.Daemon.WorkerTimeout)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := e.cfg.Daemon.Command
	cmd := exec.CommandContext(execCtx, command[0], command[1:]...)
	cmd.Dir = e.repoRoot

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create worker stdin pipe: %w", err)
	}

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return "", &WorkerFailure{RequestID: requestID, ExitCode: -1, Stderr: err.Error()}
	}

	go func() {
		defer stdinPipe.Close()
		if _, err := io.WriteString(stdinPipe, payload); err != nil {
			log.Printf("[WARN] Failed to write task payload to worker stdin: %v", err)
		}
	}()

	waitErr := cmd.Wait()
	duration := time.Since(startTime)

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	if execCtx.Err() == context.DeadlineExceeded {
		log.Printf("[ERROR] Worker timed out: request=%s timeout=%s", requestID, timeout)
		return stdout, &WorkerTimeout{RequestID: requestID, Timeout: timeout}
	}

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		log.Printf("[ERROR] Worker failed: request=%s exit_code=%d duration=%s", requestID, exitCode, duration)
		return stdout, &WorkerFailure{RequestID: requestID, ExitCode: exitCode, Stderr: truncate(stderr, 5000)}
	}

	log.Printf("[INFO] Worker completed: request=%s duration=%s", requestID, duration)
	return stdout, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err // Report full length to satisfy the writer interface
}

// truncate limits a string to maxLen characters, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
