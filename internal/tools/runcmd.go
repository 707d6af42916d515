package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/factgate/factgate/internal/evidence"
)

// runCommand executes an arbitrary shell command. The registry never
// dispatches here unless Policy.RunCommandEnabled is set; the check
// lives in Execute so a disabled invocation returns a policy denial
// without entering this function.
func runCommand(ctx context.Context, p Policy, args map[string]any, ledger *evidence.Ledger) (string, error) {
	command := stringArg(args, "command")

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = p.Root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	output := out.String()
	if err != nil {
		return "", fmt.Errorf("tools: run_command: %s: %s", err, strings.TrimSpace(output))
	}

	if ledger != nil {
		ledger.Append(evidence.KindText,
			fmt.Sprintf("run_command %q: %d bytes of output", command, len(output)),
			"tool:run_command")
	}
	return output, nil
}
