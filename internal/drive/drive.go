// Package drive mirrors files into a folder tree addressed by slash
// separated paths.
package drive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("drive: no such path")
	ErrNotFolder = errors.New("drive: path is not a folder")
)

type Node struct {
	Id       string    `json:"id"`
	Path     string    `json:"path"`
	Folder   bool      `json:"folder"`
	Shortcut bool      `json:"shortcut,omitempty"`
	Modified time.Time `json:"modified"`
}

// Drive is a remote folder tree. Paths are absolute, "/Automation/ncsef".
type Drive interface {
	// Find looks up a single path, ok is false when nothing exists there.
	Find(ctx context.Context, path string) (node Node, ok bool, err error)
	// CreateFolder creates the last component of `path`, its parent must
	// already exist. Creating an existing folder is a no-op.
	CreateFolder(ctx context.Context, path string) (Node, error)
	// CreateFile uploads `localPath` to `remotePath`, replacing the contents
	// of an existing file.
	CreateFile(ctx context.Context, localPath, remotePath string) (Node, error)
	// CreateShortcut creates a shortcut named `title` inside `containerPath`
	// pointing at `targetPath`.
	CreateShortcut(ctx context.Context, targetPath, containerPath, title string) (Node, error)
	// ListAll returns every known node keyed by path. Implementations may
	// serve it from a cache unless `forceRefresh` is set.
	ListAll(ctx context.Context, forceRefresh bool) (map[string]Node, error)
}

// Clean normalizes `p` into an absolute slash path.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}

// Split returns the parent and the last component of `p`.
func Split(p string) (string, string) {
	p = Clean(p)
	return path.Dir(p), path.Base(p)
}

// EnsureFolder creates every missing folder of `p`, one level at a time
// starting at the root.
func EnsureFolder(ctx context.Context, d Drive, p string) (Node, error) {
	p = Clean(p)
	if p == "/" {
		return Node{Path: "/", Folder: true}, nil
	}

	var node Node
	current := ""
	for _, component := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		current += "/" + component
		existing, ok, err := d.Find(ctx, current)
		if err != nil {
			return Node{}, err
		}
		if ok {
			if !existing.Folder {
				return Node{}, fmt.Errorf("%w: %s", ErrNotFolder, current)
			}
			node = existing
			continue
		}
		node, err = d.CreateFolder(ctx, current)
		if err != nil {
			return Node{}, err
		}
	}
	return node, nil
}
