package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aiwatching/accord/pkg/protocol"
)

// dispatch executes one approved request: claim it, publish the claim, hand
// it to the external worker, and apply the outcome. All failures are
// absorbed here - a broken record never stops the tick.
func (e *Engine) dispatch(ctx context.Context, req *protocol.Request) {
	log.Printf("[INFO] Dispatching request: id=%s type=%s priority=%s", req.ID, req.Type, req.Priority)

	if err := e.claim(ctx, req); err != nil {
		log.Printf("[ERROR] Failed to claim request %s: %v", req.ID, err)
		return
	}

	payload, err := e.buildPayload(req)
	if err != nil {
		log.Printf("[ERROR] Failed to build task payload for %s: %v", req.ID, err)
		e.handleWorkerFailure(req, err)
		return
	}

	stdout, err := e.invokeWorker(ctx, req.ID, payload)
	if err != nil {
		e.handleWorkerFailure(req, err)
		return
	}

	e.finalize(req, stdout)
}

// claim moves the request to in-progress and publishes the claim so peer
// daemons observe it before the worker starts.
//
// The claim is made atomic at the application layer by write-then-verify:
// the record is rewritten, re-read, and only a confirmed in-progress status
// counts as claimed.
func (e *Engine) claim(ctx context.Context, req *protocol.Request) error {
	if err := e.machine.Claim(req); err != nil {
		return err
	}

	if err := e.store.SaveInbox(req); err != nil {
		return err
	}

	verified, err := e.store.Load(e.store.Layout().RequestFile(req.To, req.ID))
	if err != nil {
		return fmt.Errorf("claim verification failed: %w", err)
	}
	if verified.Status != protocol.StatusInProgress {
		return fmt.Errorf("claim verification failed: status is %s, expected %s",
			verified.Status, protocol.StatusInProgress)
	}

	if _, err := e.sync.Push(ctx); err != nil {
		return fmt.Errorf("failed to publish claim: %w", err)
	}

	log.Printf("[INFO] Claimed request: id=%s", req.ID)
	return nil
}

// buildPayload assembles the textual task payload for the worker: the
// request record itself, the local owner's registry entry, and the related
// contract text when there is one.
func (e *Engine) buildPayload(req *protocol.Request) (string, error) {
	var buf bytes.Buffer

	raw, err := protocol.MarshalRequest(req)
	if err != nil {
		return "", err
	}
	buf.WriteString("# REQUEST\n\n")
	buf.Write(raw)

	if entry, err := e.registry.LoadEntry(e.cfg.Owner); err != nil {
		return "", err
	} else if entry != nil {
		raw, err := protocol.MarshalRegistryEntry(entry)
		if err != nil {
			return "", err
		}
		buf.WriteString("\n# REGISTRY\n\n")
		buf.Write(raw)
	}

	if req.RelatedContract != "" {
		raw, err := os.ReadFile(e.store.Layout().Abs(req.RelatedContract))
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read related contract: %w", err)
		}
		if err == nil {
			buf.WriteString("\n# CONTRACT\n\n")
			buf.Write(raw)
		}
	}

	return buf.String(), nil
}

// finalize completes a request after a successful worker run.
//
// Idempotent against worker-side archival: if the worker already archived
// the record there is nothing left to transition. Otherwise the related
// contract's annotation is cleared first - completion is refused while the
// contract update is missing (the contract-first invariant).
func (e *Engine) finalize(req *protocol.Request, workerOutput string) {
	// The worker mutates the repository; reload its view of the record
	current, err := e.store.Load(e.store.Layout().RequestFile(req.To, req.ID))
	if err != nil {
		if e.store.IsArchived(req.ID) {
			log.Printf("[INFO] Worker archived request itself: id=%s", req.ID)
			return
		}
		log.Printf("[ERROR] Request %s vanished after worker run: %v", req.ID, err)
		return
	}

	if current.Status.Terminal() {
		// Worker completed the transition itself; just make archival stick
		if err := e.store.Archive(current); err != nil {
			log.Printf("[ERROR] Failed to archive request %s: %v", req.ID, err)
		}
		return
	}

	contractCleared := true
	if current.RelatedContract != "" {
		if err := e.registry.Finalize(current.RelatedContract, current.ID); err != nil {
			log.Printf("[ERROR] Contract finalize failed for %s: %v", current.ID, err)
			contractCleared = false
		}
	}

	if err := e.machine.Complete(current, contractCleared); err != nil {
		// Contract-first invariant: without the contract update the record
		// stays in-progress and the failure budget advances
		log.Printf("[ERROR] Completion refused for %s: %v", current.ID, err)
		e.handleWorkerFailure(current, err)
		return
	}

	if err := e.store.Archive(current); err != nil {
		log.Printf("[ERROR] Failed to archive completed request %s: %v", current.ID, err)
		return
	}

	log.Printf("[INFO] Request completed and archived: id=%s", current.ID)
	_ = workerOutput // worker output is informational; the record is the durable trail
}

// handleWorkerFailure advances the retry budget after a timeout or failure.
// Below the bound the record goes back to pending for a later tick; at the
// bound it becomes failed, is archived, and an escalation is raised.
func (e *Engine) handleWorkerFailure(req *protocol.Request, cause error) {
	req.Attempts++
	bound := e.cfg.Daemon.RetryBound

	if req.Attempts < bound {
		if err := e.machine.Requeue(req); err != nil {
			log.Printf("[ERROR] Failed to requeue request %s: %v", req.ID, err)
			return
		}
		if err := e.store.SaveInbox(req); err != nil {
			log.Printf("[ERROR] Failed to persist requeued request %s: %v", req.ID, err)
			return
		}
		log.Printf("[WARN] Worker attempt %d/%d failed for request %s, will retry: %v",
			req.Attempts, bound, req.ID, cause)
		return
	}

	req.AppendSection(protocol.SectionResult,
		fmt.Sprintf("Automated processing failed after %d attempts. Last error: %v", req.Attempts, cause))

	if err := e.machine.Fail(req, bound); err != nil {
		log.Printf("[ERROR] Failed to mark request %s failed: %v", req.ID, err)
		return
	}

	if err := e.store.Archive(req); err != nil {
		log.Printf("[ERROR] Failed to archive failed request %s: %v", req.ID, err)
		return
	}

	log.Printf("[ERROR] Request failed permanently after %d attempts: id=%s", req.Attempts, req.ID)

	if err := e.escalate(req, cause); err != nil {
		log.Printf("[ERROR] Failed to raise escalation for %s: %v", req.ID, err)
	}
}

// escalate synthesizes a critical-priority request toward the orchestrator
// inbox describing the permanent failure. The escalation id is derived from
// the failed record's id, so repeated escalation attempts for the same
// failure collapse into one record.
func (e *Engine) escalate(req *protocol.Request, cause error) error {
	id := "escalate-" + req.ID

	if e.store.IsArchived(id) {
		return nil
	}
	if _, err := os.Stat(e.store.Layout().RequestFile(e.cfg.Orchestrator, id)); err == nil {
		return nil
	}

	now := e.machine.Now().UTC().Truncate(time.Second)
	escalation := &protocol.Request{
		ID:             id,
		From:           e.cfg.Owner,
		To:             e.cfg.Orchestrator,
		Scope:          protocol.ScopeExternal,
		Type:           protocol.TypeQuestion,
		Priority:       protocol.PriorityCritical,
		Status:         protocol.StatusPending,
		Created:        now,
		Updated:        now,
		OriginatedFrom: req.ID,
	}

	escalation.AppendSection(protocol.SectionWhat,
		fmt.Sprintf("Automated processing of request `%s` (from `%s`) failed %d times and was marked failed.",
			req.ID, req.From, req.Attempts))
	escalation.AppendSection(protocol.SectionProposedChange,
		"Investigate the failure and either fix the underlying issue and reopen the request, or reject it with a reason.")
	escalation.AppendSection(protocol.SectionWhy,
		fmt.Sprintf("Last error: %v", cause))
	escalation.AppendSection(protocol.SectionImpact,
		fmt.Sprintf("The capability requested by `%s` is blocked until a human intervenes.", req.From))

	if err := e.store.SaveInbox(escalation); err != nil {
		return err
	}

	log.Printf("[INFO] Escalation raised: id=%s orchestrator=%s originated_from=%s",
		id, e.cfg.Orchestrator, req.ID)
	return nil
}

// runCommand executes a command-type request synchronously within the tick:
// pending to in-progress to completed without human approval. The command
// line is taken from the record's Proposed Change section and run in the
// repository root under the worker timeout.
//
// Commands are not retried: re-running a local mutation would repeat its
// side effects, so a failed command goes straight to failed with the error
// in its Result section.
func (e *Engine) runCommand(ctx context.Context, req *protocol.Request) {
	log.Printf("[INFO] Executing command request: id=%s", req.ID)

	if err := e.machine.Claim(req); err != nil {
		log.Printf("[ERROR] Failed to claim command %s: %v", req.ID, err)
		return
	}
	if err := e.store.SaveInbox(req); err != nil {
		log.Printf("[ERROR] Failed to persist command claim %s: %v", req.ID, err)
		return
	}

	output, err := e.runCommandLine(ctx, req)
	if err != nil {
		e.failCommand(req, err)
		return
	}

	result := strings.TrimSpace(output)
	if result == "" {
		result = "Command completed with no output."
	}
	req.AppendSection(protocol.SectionResult, result)

	contractCleared := true
	if req.RelatedContract != "" {
		if err := e.registry.Finalize(req.RelatedContract, req.ID); err != nil {
			log.Printf("[ERROR] Contract finalize failed for command %s: %v", req.ID, err)
			contractCleared = false
		}
	}

	if err := e.machine.Complete(req, contractCleared); err != nil {
		// The record must not be left in-progress: no dispatch arm picks a
		// command up again, so a refused completion is terminal
		e.failCommand(req, err)
		return
	}

	if err := e.store.Archive(req); err != nil {
		log.Printf("[ERROR] Failed to archive command %s: %v", req.ID, err)
		return
	}

	log.Printf("[INFO] Command request completed: id=%s", req.ID)
}

// failCommand records the cause in the Result section and moves the command
// straight to failed and into the archive.
func (e *Engine) failCommand(req *protocol.Request, cause error) {
	req.AppendSection(protocol.SectionResult, fmt.Sprintf("Command failed: %v", cause))
	req.Attempts++
	if err := e.machine.Fail(req, req.Attempts); err != nil {
		log.Printf("[ERROR] Failed to mark command %s failed: %v", req.ID, err)
		return
	}
	if err := e.store.Archive(req); err != nil {
		log.Printf("[ERROR] Failed to archive failed command %s: %v", req.ID, err)
		return
	}
	log.Printf("[ERROR] Command request failed: id=%s error=%v", req.ID, cause)
}

// runCommandLine runs the record's command through the shell with the
// configured worker timeout.
func (e *Engine) runCommandLine(ctx context.Context, req *protocol.Request) (string, error) {
	line := commandLine(req)
	if line == "" {
		return "", fmt.Errorf("command request %s has no command in its %s section", req.ID, protocol.SectionProposedChange)
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.Daemon.WorkerTimeout))
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", line)
	cmd.Dir = e.repoRoot

	output, err := cmd.CombinedOutput()
	if execCtx.Err() == context.DeadlineExceeded {
		return string(output), &WorkerTimeout{RequestID: req.ID, Timeout: time.Duration(e.cfg.Daemon.WorkerTimeout)}
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return string(output), &WorkerFailure{RequestID: req.ID, ExitCode: exitCode, Stderr: truncate(string(output), 5000)}
	}

	return string(output), nil
}

// commandLine extracts the runnable line from the Proposed Change section,
// stripping a markdown code fence when present.
func commandLine(req *protocol.Request) string {
	section := req.Section(protocol.SectionProposedChange)
	if section == "" {
		return ""
	}

	var lines []string
	inFence := false
	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	return strings.Join(lines, "\n")
}
