package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteScript writes an executable /bin/sh script named name into dir and
// returns its path.
func WriteScript(tb testing.TB, dir, name, body string) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		tb.Fatalf("write script %s: %v", path, err)
	}
	return path
}

// RecordingScript writes a script that appends its argv (one argument per
// line, followed by a "--" separator) to record and then runs tail, which may
// be empty. It returns the script path and the record path.
func RecordingScript(tb testing.TB, dir, name, tail string) (script, record string) {
	tb.Helper()
	record = filepath.Join(dir, name+".record")
	body := fmt.Sprintf(`for arg in "$@"; do printf '%%s\n' "$arg" >> %q; done
printf '%%s\n' '--' >> %q
%s`, record, record, tail)
	return WriteScript(tb, dir, name, body), record
}

// Invocations parses a record written by RecordingScript into one argv per call.
func Invocations(tb testing.TB, record string) [][]string {
	tb.Helper()
	data, err := readIfExists(record)
	if err != nil {
		return nil
	}
	var calls [][]string
	current := []string{}
	for _, line := range strings.Split(strings.TrimSuffix(data, "\n"), "\n") {
		if line == "--" {
			calls = append(calls, current)
			current = []string{}
			continue
		}
		current = append(current, line)
	}
	return calls
}

func readIfExists(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
