package agent

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justmebob123/autonomy-sub005/internal/bus"
	"github.com/justmebob123/autonomy-sub005/internal/coordinator"
)

// fakeAgent builds a runner whose "agent" is a shell script printing the
// given stdout.
func fakeAgent(t *testing.T, stdout string, exitCode int) *ExecRunner {
	t.Helper()
	script := "cat > /dev/null; printf '%s\\n' " + shellQuote(stdout) + "; exit " + strconv.Itoa(exitCode)
	return NewExecRunner(coordinator.PhaseCoding, Config{
		Command: "sh",
		Args:    []string{"-c", script, "agent", "--ignored"},
	}, nil, nil)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func TestExecRunnerParsesResult(t *testing.T) {
	stdout := `{"type":"progress","message":"working"}
{"type":"result","success":true,"task_id":"t-1","files_modified":["main.go"],"message":"done"}`
	r := fakeAgent(t, stdout, 0)

	res, err := r.Run(context.Background(), coordinator.Request{
		RunID: "r1",
		Phase: coordinator.PhaseCoding,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "t-1", res.TaskID)
	assert.Equal(t, []string{"main.go"}, res.FilesModified)
	assert.Equal(t, "done", res.Message)
}

func TestExecRunnerIgnoresChatter(t *testing.T) {
	stdout := `starting up
not json at all
{"type":"result","success":false,"message":"could not finish"}`
	r := fakeAgent(t, stdout, 0)

	res, err := r.Run(context.Background(), coordinator.Request{Phase: coordinator.PhaseCoding})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "could not finish", res.Message)
}

func TestExecRunnerMissingResult(t *testing.T) {
	r := fakeAgent(t, `{"type":"progress","message":"half done"}`, 0)
	_, err := r.Run(context.Background(), coordinator.Request{Phase: coordinator.PhaseCoding})
	assert.Error(t, err)
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	r := fakeAgent(t, `{"type":"result","success":true}`, 1)
	_, err := r.Run(context.Background(), coordinator.Request{Phase: coordinator.PhaseCoding})
	assert.Error(t, err)
}

func TestExecRunnerPublishesProgress(t *testing.T) {
	b := bus.New(nil)
	var progress, issues int
	b.Subscribe(bus.Broadcast, bus.SystemInfo, func(bus.Message) { progress++ })
	b.Subscribe(bus.Broadcast, bus.IssueFound, func(bus.Message) { issues++ })

	stdout := `{"type":"progress","message":"step 1"}
{"type":"issue","message":"flaky test"}
{"type":"progress","message":"step 2"}
{"type":"result","success":true}`
	script := "cat > /dev/null; printf '%s\\n' " + shellQuote(stdout)
	r := NewExecRunner(coordinator.PhaseQA, Config{
		Command: "sh",
		Args:    []string{"-c", script, "agent"},
	}, b, nil)

	_, err := r.Run(context.Background(), coordinator.Request{Phase: coordinator.PhaseQA})
	require.NoError(t, err)
	assert.Equal(t, 2, progress)
	assert.Equal(t, 1, issues)
}

func TestScriptedRunnerCycles(t *testing.T) {
	s := NewScriptedRunner(coordinator.PhaseCoding,
		coordinator.PhaseResult{Success: true},
		coordinator.PhaseResult{Success: false, Message: "second"},
	)
	ctx := context.Background()

	r1, err := s.Run(ctx, coordinator.Request{})
	require.NoError(t, err)
	assert.True(t, r1.Success)

	r2, _ := s.Run(ctx, coordinator.Request{})
	assert.False(t, r2.Success)

	r3, _ := s.Run(ctx, coordinator.Request{})
	assert.True(t, r3.Success, "script wraps around")
	assert.Equal(t, 3, s.Invocations())
}

func TestBuildInstruction(t *testing.T) {
	out := BuildInstruction(coordinator.Request{
		Phase:       coordinator.PhaseDebugging,
		ObjectiveID: "obj-1",
		Objective:   "crash on startup",
	})
	assert.Contains(t, out, "# Phase: debugging")
	assert.Contains(t, out, "obj-1")
	assert.Contains(t, out, "crash on startup")
	assert.Contains(t, out, `"type":"result"`)

	unknown := BuildInstruction(coordinator.Request{Phase: coordinator.Phase("custom")})
	assert.Contains(t, unknown, "custom")
}
