// Package agent invokes the external agent process that performs the actual
// phase work. The agent is an opaque collaborator: it receives a phase
// instruction, streams JSON progress lines and finishes with a result
// object. Everything the pipeline needs back fits in a PhaseResult.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/justmebob123/autonomy-sub005/internal/bus"
	"github.com/justmebob123/autonomy-sub005/internal/coordinator"
)

const busName = "agent"

// Config configures the external agent invocation.
type Config struct {
	// Command is the agent binary. Required.
	Command string
	// Args are prepended before the per-phase flags.
	Args []string
	// WorkDir is the working directory for the agent process.
	WorkDir string
}

// ExecRunner runs one phase through the external agent command. It
// implements coordinator.PhaseRunner; the blocking subprocess call is the
// pipeline's suspension point.
type ExecRunner struct {
	phase coordinator.Phase
	cfg   Config
	bus   *bus.Bus
	log   *zap.Logger
}

// NewExecRunner builds a runner for one phase.
func NewExecRunner(phase coordinator.Phase, cfg Config, b *bus.Bus, log *zap.Logger) *ExecRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecRunner{phase: phase, cfg: cfg, bus: b, log: log}
}

// Name implements coordinator.PhaseRunner.
func (r *ExecRunner) Name() coordinator.Phase { return r.phase }

// streamLine is one JSON line on the agent's stdout. Lines with type
// "result" are terminal; the last one wins.
type streamLine struct {
	Type          string   `json:"type"`
	Message       string   `json:"message,omitempty"`
	Success       bool     `json:"success,omitempty"`
	TaskID        string   `json:"task_id,omitempty"`
	FilesCreated  []string `json:"files_created,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
}

// Run starts the agent, feeds it the phase instruction and scans its output
// stream. A missing result object, a scan error or a non-zero exit all
// surface as errors; the coordinator's boundary turns them into failed runs.
func (r *ExecRunner) Run(ctx context.Context, req coordinator.Request) (coordinator.PhaseResult, error) {
	args := append([]string(nil), r.cfg.Args...)
	args = append(args,
		"--phase", string(req.Phase),
		"--run-id", req.RunID,
		"--output-format", "stream-json",
	)
	if req.ObjectiveID != "" {
		args = append(args, "--objective-id", req.ObjectiveID)
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	if r.cfg.WorkDir != "" {
		cmd.Dir = r.cfg.WorkDir
	}
	cmd.Stdin = strings.NewReader(BuildInstruction(req))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return coordinator.PhaseResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return coordinator.PhaseResult{}, fmt.Errorf("start agent: %w", err)
	}

	var result coordinator.PhaseResult
	haveResult := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var sl streamLine
		if err := json.Unmarshal(line, &sl); err != nil {
			// non-JSON chatter, keep it out of the result
			r.log.Debug("agent output", zap.ByteString("raw", line))
			continue
		}

		switch sl.Type {
		case "progress":
			if r.bus != nil {
				r.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.SystemInfo, bus.PriorityLow, map[string]any{
					"phase":   string(req.Phase),
					"message": sl.Message,
				}))
			}
		case "issue":
			if r.bus != nil {
				r.bus.Publish(bus.NewMessage(busName, bus.Broadcast, bus.IssueFound, bus.PriorityHigh, map[string]any{
					"phase":   string(req.Phase),
					"message": sl.Message,
				}))
			}
		case "result":
			result = coordinator.PhaseResult{
				Success:       sl.Success,
				TaskID:        sl.TaskID,
				FilesCreated:  sl.FilesCreated,
				FilesModified: sl.FilesModified,
				Message:       sl.Message,
			}
			haveResult = true
		}
	}
	if err := scanner.Err(); err != nil {
		cmd.Wait()
		return coordinator.PhaseResult{}, fmt.Errorf("read agent output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return coordinator.PhaseResult{}, fmt.Errorf("agent exited: %w", err)
	}
	if !haveResult {
		return coordinator.PhaseResult{}, fmt.Errorf("agent produced no result for phase %s", req.Phase)
	}
	return result, nil
}
