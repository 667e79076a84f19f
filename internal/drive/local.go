package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const shortcutSuffix = ".shortcut"

// LocalDrive keeps the folder tree in a directory, it is used to run a sync
// without cloud credentials and in tests.
type LocalDrive struct {
	// Fs holds the tree under Root.
	Fs   afero.Fs
	Root string
	// Source is where local paths passed to CreateFile are read from.
	Source afero.Fs
}

func NewLocalDrive(fs afero.Fs, root string, source afero.Fs) LocalDrive {
	return LocalDrive{Fs: fs, Root: root, Source: source}
}

func (d LocalDrive) real(p string) string {
	return filepath.Join(d.Root, filepath.FromSlash(Clean(p)))
}

func (d LocalDrive) node(p string, info os.FileInfo) Node {
	p = Clean(p)
	shortcut := strings.HasSuffix(p, shortcutSuffix) || info.Mode()&os.ModeSymlink != 0
	if strings.HasSuffix(p, shortcutSuffix) {
		p = strings.TrimSuffix(p, shortcutSuffix)
	}
	return Node{
		Id:       p,
		Path:     p,
		Folder:   info.IsDir(),
		Shortcut: shortcut,
		Modified: info.ModTime(),
	}
}

func (d LocalDrive) stat(p string) (os.FileInfo, error) {
	if lstater, ok := d.Fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(p)
		return info, err
	}
	return d.Fs.Stat(p)
}

func (d LocalDrive) Find(_ context.Context, p string) (Node, bool, error) {
	for _, candidate := range []string{Clean(p), Clean(p) + shortcutSuffix} {
		info, err := d.stat(d.real(candidate))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Node{}, false, err
		}
		return d.node(candidate, info), true, nil
	}
	return Node{}, false, nil
}

func (d LocalDrive) requireParent(p string) error {
	parent, _ := Split(p)
	if parent == "/" {
		return d.Fs.MkdirAll(d.real(parent), 0755)
	}
	info, err := d.Fs.Stat(d.real(parent))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, parent)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotFolder, parent)
	}
	return nil
}

func (d LocalDrive) CreateFolder(ctx context.Context, p string) (Node, error) {
	existing, ok, err := d.Find(ctx, p)
	if err != nil {
		return Node{}, err
	}
	if ok {
		if !existing.Folder {
			return Node{}, fmt.Errorf("%w: %s", ErrNotFolder, p)
		}
		return existing, nil
	}
	if err := d.requireParent(p); err != nil {
		return Node{}, err
	}
	if err := d.Fs.Mkdir(d.real(p), 0755); err != nil {
		return Node{}, err
	}
	info, err := d.Fs.Stat(d.real(p))
	if err != nil {
		return Node{}, err
	}
	return d.node(p, info), nil
}

// CreateFile copies the local file and carries over its modification time,
// later syncs compare against it.
func (d LocalDrive) CreateFile(_ context.Context, localPath, remotePath string) (Node, error) {
	if err := d.requireParent(remotePath); err != nil {
		return Node{}, err
	}
	src, err := d.Source.Open(localPath)
	if err != nil {
		return Node{}, err
	}
	defer src.Close()
	srcInfo, err := src.Stat()
	if err != nil {
		return Node{}, err
	}

	dst, err := d.Fs.OpenFile(d.real(remotePath), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return Node{}, err
	}
	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Node{}, err
	}
	if err := d.Fs.Chtimes(d.real(remotePath), srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return Node{}, err
	}

	info, err := d.Fs.Stat(d.real(remotePath))
	if err != nil {
		return Node{}, err
	}
	return d.node(remotePath, info), nil
}

// CreateShortcut makes a symlink when the filesystem supports them and a
// file holding the target path otherwise.
func (d LocalDrive) CreateShortcut(ctx context.Context, targetPath, containerPath, title string) (Node, error) {
	shortcut := Clean(containerPath + "/" + title)
	if existing, ok, err := d.Find(ctx, shortcut); err != nil || ok {
		return existing, err
	}
	if _, ok, err := d.Find(ctx, targetPath); err != nil {
		return Node{}, err
	} else if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, targetPath)
	}
	if err := d.requireParent(shortcut); err != nil {
		return Node{}, err
	}

	if linker, ok := d.Fs.(afero.Linker); ok {
		rel, err := filepath.Rel(filepath.Dir(d.real(shortcut)), d.real(targetPath))
		if err == nil && linker.SymlinkIfPossible(rel, d.real(shortcut)) == nil {
			info, err := d.stat(d.real(shortcut))
			if err != nil {
				return Node{}, err
			}
			return d.node(shortcut, info), nil
		}
	}

	if err := afero.WriteFile(d.Fs, d.real(shortcut)+shortcutSuffix, []byte(Clean(targetPath)+"\n"), 0644); err != nil {
		return Node{}, err
	}
	info, err := d.Fs.Stat(d.real(shortcut) + shortcutSuffix)
	if err != nil {
		return Node{}, err
	}
	return d.node(shortcut+shortcutSuffix, info), nil
}

func (d LocalDrive) ListAll(_ context.Context, _ bool) (map[string]Node, error) {
	out := map[string]Node{}
	root := filepath.Clean(d.Root)
	exists, err := afero.DirExists(d.Fs, root)
	if err != nil || !exists {
		return out, err
	}
	err = afero.Walk(d.Fs, root, func(real string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, real)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		node := d.node(filepath.ToSlash(rel), info)
		out[node.Path] = node
		return nil
	})
	return out, err
}
