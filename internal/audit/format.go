package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Tail reads the last n entries of an audit log.
func Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("audit: parse entry: %w", err)
		}
		entries = append(entries, e)
		if len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	return entries, nil
}

// FormatEntries renders entries as a human-readable table for the
// audit tail command.
func FormatEntries(entries []Entry) string {
	if len(entries) == 0 {
		return "no entries\n"
	}
	var b strings.Builder
	for _, e := range entries {
		tools := make([]string, 0, len(e.Tools))
		for _, t := range e.Tools {
			mark := "+"
			if !t.Success {
				mark = "!"
			}
			tools = append(tools, mark+t.Name)
		}
		toolCol := strings.Join(tools, ",")
		if toolCol == "" {
			toolCol = "-"
		}
		gates := "-"
		if len(e.Interventions) > 0 {
			gates = fmt.Sprintf("%d gated", len(e.Interventions))
		}
		fmt.Fprintf(&b, "%-24s %-10s %-16s %-9s %-20s %s\n",
			e.Timestamp, e.Outcome, e.Mode, fmt.Sprintf("%.2f", e.Confidence), toolCol, gates)
	}
	return b.String()
}
