package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/factgate/factgate/internal/evidence"
)

// git runs a read-only git subcommand with a fixed argument vector
// rooted at the policy root. No argument comes from the caller
// unquoted; the argv is constructed here, never parsed from a string.
func git(ctx context.Context, p Policy, args ...string) (string, error) {
	argv := append([]string{"-C", p.Root}, args...)
	cmd := exec.CommandContext(ctx, "git", argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("tools: git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

func runGitStatus(ctx context.Context, p Policy, _ map[string]any, ledger *evidence.Ledger) (string, error) {
	out, err := git(ctx, p, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	changed := 0
	for _, line := range lines {
		if line != "" && !strings.HasPrefix(line, "##") {
			changed++
		}
	}
	if ledger != nil {
		ledger.Append(evidence.KindVCS,
			fmt.Sprintf("git_status: %d changed paths", changed), "tool:git_status")
		for _, line := range lines {
			if line == "" || strings.HasPrefix(line, "##") {
				continue
			}
			// Porcelain v1: two status columns, a space, then the path.
			if len(line) > 3 {
				ledger.Append(evidence.KindFile, strings.TrimSpace(line[3:]), "tool:git_status")
			}
		}
	}
	if changed == 0 {
		return "working tree clean\n" + out, nil
	}
	return out, nil
}

func runGitDiff(ctx context.Context, p Policy, args map[string]any, ledger *evidence.Ledger) (string, error) {
	argv := []string{"diff", "--stat"}
	if staged, _ := args["staged"].(bool); staged {
		argv = append(argv, "--cached")
	}
	out, err := git(ctx, p, argv...)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		out = "no changes\n"
	}
	if ledger != nil {
		ledger.Append(evidence.KindVCS, "git_diff: "+firstLine(out), "tool:git_diff")
	}
	return out, nil
}

func runGitLog(ctx context.Context, p Policy, args map[string]any, ledger *evidence.Ledger) (string, error) {
	limit := 10
	if v, ok := args["limit"].(float64); ok && v >= 1 {
		limit = int(v)
	}
	out, err := git(ctx, p, "log", fmt.Sprintf("-%d", limit), "--oneline", "--no-decorate")
	if err != nil {
		return "", err
	}
	count := 0
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line != "" {
			count++
		}
	}
	if ledger != nil {
		ledger.Append(evidence.KindVCS,
			fmt.Sprintf("git_log: %d commits", count), "tool:git_log")
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
