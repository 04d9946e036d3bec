package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestArchiveKeepsOrderAndContent(t *testing.T) {
	mod := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	data, err := Archive([]Entry{
		{Name: "history.json", Modified: mod, Data: []byte(`[]`)},
		{Name: "results/./urls.txt", Modified: mod, Data: []byte("https://cdn.example/a.png\n")},
	})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "history.json" || zr.File[1].Name != "results/urls.txt" {
		t.Fatalf("unexpected entries: %+v", zr.File)
	}
	rc, err := zr.File[1].Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "https://cdn.example/a.png\n" {
		t.Fatalf("unexpected content %q", body)
	}
}

func TestArchiveRejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"", "/etc/passwd", "../escape.txt", "a/../../b", `dir\file`} {
		if _, err := Archive([]Entry{{Name: name}}); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
	if _, err := Archive([]Entry{{Name: "a.txt"}, {Name: "./a.txt"}}); err == nil {
		t.Fatalf("expected duplicate entry error")
	}
}
