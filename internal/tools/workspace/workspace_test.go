package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/convoke-ai/convoke/internal/tool"
)

// ─────────────────────────────────────────────────────────────────────────────
// path resolution
// ─────────────────────────────────────────────────────────────────────────────

func TestResolve_Valid(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	w := New(base)

	cases := []struct {
		rel  string
		want string
	}{
		{"file.txt", filepath.Join(base, "file.txt")},
		{"notes/summary.md", filepath.Join(base, "notes", "summary.md")},
		{"a/b/c.json", filepath.Join(base, "a", "b", "c.json")},
	}

	for _, tt := range cases {
		t.Run(tt.rel, func(t *testing.T) {
			got, err := w.resolve(tt.rel)
			if err != nil {
				t.Fatalf("resolve(%q) unexpected error: %v", tt.rel, err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_Traversal(t *testing.T) {
	t.Parallel()
	w := New(t.TempDir())

	badPaths := []string{
		"../escape",
		"../../etc/passwd",
		"foo/../../escape",
		"../",
		"",
	}

	for _, rel := range badPaths {
		t.Run(rel, func(t *testing.T) {
			_, err := w.resolve(rel)
			if err == nil {
				t.Errorf("resolve(%q) expected error, got nil", rel)
			}
			if err != nil && !strings.HasPrefix(err.Error(), "workspace:") {
				t.Errorf("error %q should be prefixed with 'workspace:'", err.Error())
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// file operations
// ─────────────────────────────────────────────────────────────────────────────

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	w := New(t.TempDir())
	ctx := context.Background()

	n, err := w.WriteFile(ctx, "notes/hello.txt", "hello workspace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("hello workspace") {
		t.Errorf("bytes written = %d, want %d", n, len("hello workspace"))
	}

	content, err := w.ReadFile(ctx, "notes/hello.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "hello workspace" {
		t.Errorf("content = %q, want %q", content, "hello workspace")
	}
}

func TestReadFile_TooLarge(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	w := New(base)

	big := make([]byte, maxReadBytes+1)
	if err := os.WriteFile(filepath.Join(base, "big.bin"), big, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := w.ReadFile(context.Background(), "big.bin")
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("ReadFile on oversized file error = %v, want size rejection", err)
	}
}

func TestListFilesAndStat(t *testing.T) {
	t.Parallel()
	w := New(t.TempDir())
	ctx := context.Background()

	if _, err := w.WriteFile(ctx, "a.txt", "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.WriteFile(ctx, "sub/b.txt", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names, err := w.ListFiles(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("ListFiles returned %d entries, want 2: %v", len(names), names)
	}
	var sawDir bool
	for _, name := range names {
		if strings.HasSuffix(name, string(filepath.Separator)) {
			sawDir = true
		}
	}
	if !sawDir {
		t.Errorf("directory entry not marked with separator suffix: %v", names)
	}

	info, err := w.Stat(ctx, "a.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.IsDir || info.Size != 1 {
		t.Errorf("Stat = %+v, want regular 1-byte file", info)
	}
}

func TestDeleteAndRename(t *testing.T) {
	t.Parallel()
	w := New(t.TempDir())
	ctx := context.Background()

	if _, err := w.WriteFile(ctx, "old.txt", "content"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.RenameFile(ctx, "old.txt", "moved/new.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.ReadFile(ctx, "old.txt"); err == nil {
		t.Error("old path still readable after rename")
	}
	content, err := w.ReadFile(ctx, "moved/new.txt")
	if err != nil || content != "content" {
		t.Errorf("ReadFile after rename = %q, %v", content, err)
	}

	if err := w.DeleteFile(ctx, "moved/new.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.ReadFile(ctx, "moved/new.txt"); err == nil {
		t.Error("file still readable after delete")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// registration through the tool registry
// ─────────────────────────────────────────────────────────────────────────────

func TestRegister_ToolsInvocable(t *testing.T) {
	t.Parallel()
	reg := tool.New()
	w := New(t.TempDir())
	if err := Register(reg, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTools := []string{"delete_file", "file_info", "list_files", "read_file", "rename_file", "write_file"}
	defs := reg.List(false)
	if len(defs) != len(wantTools) {
		t.Fatalf("registered %d tools, want %d", len(defs), len(wantTools))
	}
	for i, d := range defs {
		if d.Name != wantTools[i] {
			t.Errorf("List[%d] = %q, want %q", i, d.Name, wantTools[i])
		}
	}

	ctx := context.Background()
	res := reg.Invoke(ctx, "write_file", map[string]any{"path": "t.txt", "content": "via registry"})
	if !res.Success {
		t.Fatalf("write_file failed: %s", res.Error)
	}

	res = reg.Invoke(ctx, "read_file", map[string]any{"path": "t.txt"})
	if !res.Success {
		t.Fatalf("read_file failed: %s", res.Error)
	}
	if res.Payload["content"] != "via registry" {
		t.Errorf("content = %v, want %q", res.Payload["content"], "via registry")
	}

	// Escaping paths surface as failure results, never as panics or errors
	// crossing the registry boundary.
	res = reg.Invoke(ctx, "read_file", map[string]any{"path": "../../etc/passwd"})
	if res.Success {
		t.Error("read_file escaped the workspace root")
	}
	if !strings.Contains(res.Error, "escapes") {
		t.Errorf("error = %q, want escape rejection", res.Error)
	}
}
