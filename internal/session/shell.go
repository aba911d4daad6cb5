package session

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const shellPrefixTimeout = 20 * time.Second

// ShellPrefix reports whether text is a shell short-circuit command
// (`! ...` or `$ ...`) and returns the command to run. Shell-prefixed
// input never reaches the assistant — it is executed directly and the
// output is pushed back into the session log as an agent message.
func ShellPrefix(text string) (cmd string, ok bool) {
	trimmed := strings.TrimLeft(text, " \t")
	switch {
	case strings.HasPrefix(trimmed, "!"):
		return strings.TrimSpace(trimmed[1:]), true
	case strings.HasPrefix(trimmed, "$ "):
		return strings.TrimSpace(trimmed[2:]), true
	default:
		return "", false
	}
}

// IsIsolateCommand reports whether text is a flush-and-isolate command.
func IsIsolateCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == "/clear" || trimmed == "/compact"
}

// RunShellPrefix executes cmd under a bounded timeout and formats the
// combined output as a fenced code block for the session log.
func RunShellPrefix(ctx context.Context, workingDir, cmd string) string {
	ctx, cancel := context.WithTimeout(ctx, shellPrefixTimeout)
	defer cancel()

	c := exec.CommandContext(ctx, "bash", "-c", cmd)
	c.Dir = workingDir
	output, err := c.CombinedOutput()

	var b strings.Builder
	b.WriteString("```bash\n")
	b.WriteString("$ ")
	b.WriteString(cmd)
	b.WriteString("\n")
	b.Write(output)
	if len(output) > 0 && output[len(output)-1] != '\n' {
		b.WriteString("\n")
	}
	if err != nil {
		b.WriteString(fmt.Sprintf("*Exit code: %d*\n", exitCode(err)))
	}
	b.WriteString("```")
	return b.String()
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
