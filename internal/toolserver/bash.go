package toolserver

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

type BashRunner struct {
	WorkingDir string
	timeout    time.Duration
}

func NewBashRunner(workingDir string) *BashRunner {
	return &BashRunner{WorkingDir: workingDir, timeout: 30 * time.Second}
}

func (br *BashRunner) SetTimeout(d time.Duration) { br.timeout = d }

func (br *BashRunner) Run(ctx context.Context, tool string, params map[string]any) (*Result, error) {
	if tool != "bash" {
		return &Result{Error: "unsupported tool: " + tool}, nil
	}
	command, ok := params["command"].(string)
	if !ok {
		return &Result{Error: "missing or invalid 'command' parameter"}, nil
	}

	timeout := br.timeout
	if ms, ok := params["timeout_ms"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = br.WorkingDir
	output, err := cmd.CombinedOutput()

	result := &Result{Output: strings.TrimSpace(string(output))}
	if err != nil {
		result.Error = err.Error()
	}
	return result, nil
}

func (br *BashRunner) SupportedTools() []string { return []string{"bash"} }
