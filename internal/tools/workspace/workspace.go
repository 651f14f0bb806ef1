// Package workspace provides the builtin file tools, sandboxed to a
// configured root directory. All paths are resolved against the root and
// rejected if they escape it.
//
// Six tools are registered via [Register]: "read_file", "write_file",
// "list_files", "file_info", "delete_file" and "rename_file". All handlers
// are safe for concurrent use.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/convoke-ai/convoke/internal/tool"
	"github.com/convoke-ai/convoke/pkg/types"
)

// maxReadBytes caps the file size read_file will return.
const maxReadBytes = 1 << 20 // 1 MiB

// Workspace is the sandboxed file store backing the builtin file tools.
type Workspace struct {
	root string
}

// New returns a workspace rooted at dir. dir should be an absolute path to an
// existing directory.
func New(dir string) *Workspace {
	return &Workspace{root: filepath.Clean(dir)}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// resolve joins rel onto the workspace root and verifies the result stays
// inside it.
func (w *Workspace) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("workspace: path must not be empty")
	}
	joined := filepath.Join(w.root, rel)
	if joined != w.root && !strings.HasPrefix(joined, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: path %q escapes the workspace root", rel)
	}
	return joined, nil
}

type pathArgs struct {
	Path string `json:"path"`
}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type renameArgs struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type listArgs struct {
	Path string `json:"path,omitempty"`
}

// ReadFile returns the text content of the file at rel.
func (w *Workspace) ReadFile(ctx context.Context, rel string) (string, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("workspace: read_file: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("workspace: read_file: %w", err)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("workspace: read_file: file %q is too large (%d bytes, max %d)",
			rel, info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("workspace: read_file: %w", err)
	}
	return string(data), nil
}

// WriteFile writes content to the file at rel, creating parent directories as
// needed. It returns the number of bytes written.
func (w *Workspace) WriteFile(ctx context.Context, rel, content string) (int, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("workspace: write_file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("workspace: write_file: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("workspace: write_file: %w", err)
	}
	return len(content), nil
}

// ListFiles returns the entry names under the directory at rel. An empty rel
// lists the workspace root. Directories are suffixed with a path separator.
func (w *Workspace) ListFiles(ctx context.Context, rel string) ([]string, error) {
	if rel == "" {
		rel = "."
	}
	abs, err := w.resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("workspace: list_files: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: list_files: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	return names, nil
}

// FileInfo describes a workspace file.
type FileInfo struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"isDir"`
	Modified string `json:"modified"`
}

// Stat returns metadata about the file at rel.
func (w *Workspace) Stat(ctx context.Context, rel string) (FileInfo, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return FileInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return FileInfo{}, fmt.Errorf("workspace: file_info: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FileInfo{}, fmt.Errorf("workspace: file_info: %w", err)
	}
	return FileInfo{
		Path:     rel,
		Size:     info.Size(),
		IsDir:    info.IsDir(),
		Modified: info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
	}, nil
}

// DeleteFile removes the file at rel. Directories must be empty.
func (w *Workspace) DeleteFile(ctx context.Context, rel string) error {
	abs, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("workspace: delete_file: %w", err)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("workspace: delete_file: %w", err)
	}
	return nil
}

// RenameFile moves the file at from to to, both inside the workspace.
func (w *Workspace) RenameFile(ctx context.Context, from, to string) error {
	absFrom, err := w.resolve(from)
	if err != nil {
		return err
	}
	absTo, err := w.resolve(to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("workspace: rename_file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absTo), 0o755); err != nil {
		return fmt.Errorf("workspace: rename_file: %w", err)
	}
	if err := os.Rename(absFrom, absTo); err != nil {
		return fmt.Errorf("workspace: rename_file: %w", err)
	}
	return nil
}

// Register adds the workspace file tools to reg.
func Register(reg *tool.Registry, w *Workspace) error {
	pathSchema, err := tool.SchemaFor[pathArgs]()
	if err != nil {
		return err
	}
	writeSchema, err := tool.SchemaFor[writeArgs]()
	if err != nil {
		return err
	}
	renameSchema, err := tool.SchemaFor[renameArgs]()
	if err != nil {
		return err
	}
	listSchema, err := tool.SchemaFor[listArgs]()
	if err != nil {
		return err
	}

	register := func(name, desc string, schema map[string]any, fn tool.Func) error {
		return reg.Register(name, desc, schema, types.ProvenanceBuiltin, fn)
	}

	if err := register("read_file",
		"Read the text content of a file from the workspace. Files larger than 1 MiB are rejected.",
		pathSchema, func(ctx context.Context, params map[string]any) (map[string]any, error) {
			args, err := tool.DecodeParams[pathArgs](params)
			if err != nil {
				return nil, err
			}
			content, err := w.ReadFile(ctx, args.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"path": args.Path, "content": content}, nil
		}); err != nil {
		return err
	}

	if err := register("write_file",
		"Write text content to a file in the workspace. Creates missing parent directories automatically.",
		writeSchema, func(ctx context.Context, params map[string]any) (map[string]any, error) {
			args, err := tool.DecodeParams[writeArgs](params)
			if err != nil {
				return nil, err
			}
			n, err := w.WriteFile(ctx, args.Path, args.Content)
			if err != nil {
				return nil, err
			}
			return map[string]any{"path": args.Path, "bytesWritten": n}, nil
		}); err != nil {
		return err
	}

	if err := register("list_files",
		"List the files in a workspace directory. Omit path to list the workspace root. Directory entries end with a path separator.",
		listSchema, func(ctx context.Context, params map[string]any) (map[string]any, error) {
			args, err := tool.DecodeParams[listArgs](params)
			if err != nil {
				return nil, err
			}
			names, err := w.ListFiles(ctx, args.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"path": args.Path, "files": names}, nil
		}); err != nil {
		return err
	}

	if err := register("file_info",
		"Return size, type and modification time of a workspace file or directory.",
		pathSchema, func(ctx context.Context, params map[string]any) (map[string]any, error) {
			args, err := tool.DecodeParams[pathArgs](params)
			if err != nil {
				return nil, err
			}
			info, err := w.Stat(ctx, args.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"path":     info.Path,
				"size":     info.Size,
				"isDir":    info.IsDir,
				"modified": info.Modified,
			}, nil
		}); err != nil {
		return err
	}

	if err := register("delete_file",
		"Delete a file from the workspace. Directories must be empty to be deleted.",
		pathSchema, func(ctx context.Context, params map[string]any) (map[string]any, error) {
			args, err := tool.DecodeParams[pathArgs](params)
			if err != nil {
				return nil, err
			}
			if err := w.DeleteFile(ctx, args.Path); err != nil {
				return nil, err
			}
			return map[string]any{"path": args.Path, "deleted": true}, nil
		}); err != nil {
		return err
	}

	return register("rename_file",
		"Move or rename a file inside the workspace. Creates missing parent directories for the destination.",
		renameSchema, func(ctx context.Context, params map[string]any) (map[string]any, error) {
			args, err := tool.DecodeParams[renameArgs](params)
			if err != nil {
				return nil, err
			}
			if err := w.RenameFile(ctx, args.From, args.To); err != nil {
				return nil, err
			}
			return map[string]any{"from": args.From, "to": args.To, "renamed": true}, nil
		})
}
