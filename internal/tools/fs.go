package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/factgate/factgate/internal/evidence"
)

// confine resolves rel against the policy root and rejects anything
// escaping it. Symlinks are resolved before the containment check.
func confine(p Policy, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" || rel == "." {
		rel = "."
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute paths are not permitted", ErrValidation)
	}
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return "", fmt.Errorf("tools: resolve root: %w", err)
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	joined := filepath.Join(root, rel)
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			// Containment still checked on the lexical path so the
			// caller gets a not-found from the operation itself.
			resolved = joined
		} else {
			return "", fmt.Errorf("tools: resolve path: %w", err)
		}
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes permitted root", ErrValidation)
	}
	return resolved, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func runListFiles(_ context.Context, p Policy, args map[string]any, ledger *evidence.Ledger) (string, error) {
	rel := stringArg(args, "path")
	dir, err := confine(p, rel)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("tools: list %s: %w", rel, err)
	}

	names := make([]string, 0, len(entries))
	var b strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
		fmt.Fprintln(&b, name)
	}
	sort.Strings(names)

	if ledger != nil {
		ledger.Append(evidence.KindCount,
			fmt.Sprintf("list_files %s: %d entries", rel, len(names)), "tool:list_files")
		for _, name := range names {
			fact := filepath.Join(rel, strings.TrimSuffix(name, "/"))
			ledger.Append(evidence.KindFile, fact, "tool:list_files")
		}
	}
	return b.String(), nil
}

func runReadFile(_ context.Context, p Policy, args map[string]any, ledger *evidence.Ledger) (string, error) {
	rel := stringArg(args, "path")
	path, err := confine(p, rel)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("tools: read %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("tools: stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrValidation, rel)
	}

	var b strings.Builder
	scanner := bufio.NewScanner(io.LimitReader(f, maxReadBytes))
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	lines := 0
	truncated := false
	for scanner.Scan() {
		if lines >= maxReadLines {
			truncated = true
			break
		}
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
		lines++
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("tools: read %s: %w", rel, err)
	}
	if truncated || info.Size() > maxReadBytes {
		fmt.Fprintf(&b, "[truncated: %d bytes total]\n", info.Size())
	}

	if ledger != nil {
		ledger.Append(evidence.KindFile, rel, "tool:read_file")
		ledger.Append(evidence.KindCount,
			fmt.Sprintf("read_file %s: %d lines", rel, lines), "tool:read_file")
	}
	return b.String(), nil
}

func runSearchText(ctx context.Context, p Policy, args map[string]any, ledger *evidence.Ledger) (string, error) {
	pattern := stringArg(args, "pattern")
	rel := stringArg(args, "path")
	start, err := confine(p, rel)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return "", fmt.Errorf("tools: resolve root: %w", err)
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}

	type hit struct {
		path string
		line int
		text string
	}
	var hits []hit
	matchedFiles := map[string]bool{}

	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(hits) >= maxSearchHits {
			return filepath.SkipAll
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		relPath, _ := filepath.Rel(root, path)
		scanner := bufio.NewScanner(io.LimitReader(f, maxReadBytes))
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if strings.Contains(scanner.Text(), pattern) {
				hits = append(hits, hit{path: relPath, line: lineNo, text: scanner.Text()})
				matchedFiles[relPath] = true
				if len(hits) >= maxSearchHits {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("tools: search %q: %w", pattern, walkErr)
	}

	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s:%d: %s\n", h.path, h.line, strings.TrimSpace(h.text))
	}
	if len(hits) == 0 {
		fmt.Fprintf(&b, "no matches for %q\n", pattern)
	}

	if ledger != nil {
		ledger.Append(evidence.KindCount,
			fmt.Sprintf("search_text %q: %d matches", pattern, len(hits)), "tool:search_text")
		files := make([]string, 0, len(matchedFiles))
		for f := range matchedFiles {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			ledger.Append(evidence.KindFile, f, "tool:search_text")
		}
	}
	return b.String(), nil
}
