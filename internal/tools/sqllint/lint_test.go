package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSQLInlineQueriesAreMarked(t *testing.T) {
	violations, err := lintPaths([]string{filepath.Join("..", "..", "sqlinline")})
	if err != nil {
		t.Fatalf("lintPaths: %v", err)
	}
	for _, v := range violations {
		t.Errorf("%s", v)
	}
}

func TestLintReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	src := "package q\n\n" +
		"const QGood = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;`\n\n" +
		"const QDup = `--sql 11111111-2222-4333-8444-555555555555\nselect 2;`\n\n" +
		"const QBare = `select 3;`\n\n" +
		"const Greeting = \"hello\"\n"
	if err := os.WriteFile(filepath.Join(dir, "q.go"), []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	violations, err := lintPaths([]string{dir})
	if err != nil {
		t.Fatalf("lintPaths: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %v", violations)
	}
	if violations[0].name != "QDup" || !strings.Contains(violations[0].message, "already used by QGood") {
		t.Fatalf("unexpected duplicate violation %v", violations[0])
	}
	if violations[1].name != "QBare" {
		t.Fatalf("unexpected missing-marker violation %v", violations[1])
	}
}
