// Package filetree implements the chroot-confined file-tree surface (spec
// section 4.6) shared by the HTTP and SFTP collaborators. Every operation is
// scoped to a per-workload base directory; path confinement arithmetic is
// grounded on pkg/volume's join(basePath, id) pattern from the teacher,
// extended with the traversal check the spec requires. No pack dependency
// addresses chroot arithmetic, so this stays on path/filepath and os.
package filetree

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/logging"
	"github.com/rs/zerolog"
)

// Tree scopes every operation to one workload's base directory.
type Tree struct {
	base   string
	logger zerolog.Logger
}

// Entry describes one directory child.
type Entry struct {
	Name    string
	IsDir   bool
	SizeB   int64
	Mode    os.FileMode
	ModTime int64
}

// New returns a Tree rooted at join(serverDataRoot, workloadID), creating
// the base directory on demand.
func New(serverDataRoot, workloadID string) (*Tree, error) {
	base := filepath.Join(serverDataRoot, workloadID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, catalysterr.Wrap(catalysterr.Internal, "creating workload base directory", err)
	}
	return &Tree{base: base, logger: logging.WithComponent("filetree").With().Str("workload", workloadID).Logger()}, nil
}

// resolve normalizes a caller-supplied path and confines it to the base,
// per spec section 4.6: backslashes become slashes, empty segments are
// dropped, the result is rejoined against the base, and anything that
// escapes (other than the base itself) fails with PathTraversal.
func (t *Tree) resolve(reqPath string) (string, error) {
	normalized := strings.ReplaceAll(reqPath, "\\", "/")
	parts := strings.Split(normalized, "/")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		clean = append(clean, p)
	}

	resolved := filepath.Join(append([]string{t.base}, clean...)...)
	resolved = filepath.Clean(resolved)

	if resolved != t.base && !strings.HasPrefix(resolved, t.base+string(filepath.Separator)) {
		return "", catalysterr.New(catalysterr.PathTraversal, fmt.Sprintf("path %q escapes workload base", reqPath))
	}
	return resolved, nil
}

// Logical reverses resolve: given an absolute path under the base, it
// returns the path as the caller would refer to it, always "/"-separated
// and rooted at "/". Used by SFTP's REALPATH, which must never leak the
// real base.
func (t *Tree) Logical(absPath string) string {
	rel, err := filepath.Rel(t.base, absPath)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

// List returns the direct children of dirPath, sorted by name.
func (t *Tree) List(dirPath string) ([]Entry, error) {
	abs, err := t.resolve(dirPath)
	if err != nil {
		return nil, err
	}
	children, err := os.ReadDir(abs)
	if err != nil {
		return nil, mapOSErr(err)
	}
	entries := make([]Entry, 0, len(children))
	for _, c := range children {
		info, err := c.Info()
		if err != nil {
			continue
		}
		entries = append(entries, toEntry(info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat returns metadata for a single path.
func (t *Tree) Stat(path string) (Entry, error) {
	abs, err := t.resolve(path)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Entry{}, mapOSErr(err)
	}
	return toEntry(info), nil
}

// ReadFile returns a path's full contents.
func (t *Tree) ReadFile(path string) ([]byte, error) {
	abs, err := t.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, mapOSErr(err)
	}
	return data, nil
}

// WriteFile writes data to path, creating or truncating it.
func (t *Tree) WriteFile(path string, data []byte) error {
	abs, err := t.resolve(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return mapOSErr(err)
	}
	return nil
}

// CreateDir makes a directory and any missing parents.
func (t *Tree) CreateDir(path string) error {
	abs, err := t.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return mapOSErr(err)
	}
	return nil
}

// CreateFile creates an empty file, failing if it already exists.
func (t *Tree) CreateFile(path string) error {
	abs, err := t.resolve(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return mapOSErr(err)
	}
	return f.Close()
}

// DeleteRecursive removes path and, if it is a directory, everything under it.
func (t *Tree) DeleteRecursive(path string) error {
	abs, err := t.resolve(path)
	if err != nil {
		return err
	}
	if abs == t.base {
		return catalysterr.New(catalysterr.ValidationError, "cannot delete workload root")
	}
	if err := os.RemoveAll(abs); err != nil {
		return mapOSErr(err)
	}
	return nil
}

// Chmod parses mode per spec section 4.6 (octal when it matches ^[0-7]{3,4}$,
// decimal otherwise) and applies it, rejecting anything outside [0, 0o777].
func (t *Tree) Chmod(path, mode string) error {
	abs, err := t.resolve(path)
	if err != nil {
		return err
	}
	parsed, err := parseMode(mode)
	if err != nil {
		return err
	}
	if err := os.Chmod(abs, parsed); err != nil {
		return mapOSErr(err)
	}
	return nil
}

func parseMode(mode string) (os.FileMode, error) {
	isOctalShape := len(mode) >= 3 && len(mode) <= 4
	if isOctalShape {
		for _, r := range mode {
			if r < '0' || r > '7' {
				isOctalShape = false
				break
			}
		}
	}
	var n int64
	var err error
	if isOctalShape {
		n, err = strconv.ParseInt(mode, 8, 32)
	} else {
		n, err = strconv.ParseInt(mode, 10, 32)
	}
	if err != nil || n < 0 || n > 0o777 {
		return 0, catalysterr.New(catalysterr.ValidationError, fmt.Sprintf("invalid file mode %q", mode))
	}
	return os.FileMode(n), nil
}

// Rename moves oldPath to newPath, both resolved against the same base.
func (t *Tree) Rename(oldPath, newPath string) error {
	oldAbs, err := t.resolve(oldPath)
	if err != nil {
		return err
	}
	newAbs, err := t.resolve(newPath)
	if err != nil {
		return err
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return mapOSErr(err)
	}
	return nil
}

func toEntry(info fs.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		SizeB:   info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime().Unix(),
	}
}

func mapOSErr(err error) error {
	if os.IsNotExist(err) {
		return catalysterr.Wrap(catalysterr.NotFound, "path not found", err)
	}
	return catalysterr.Wrap(catalysterr.Internal, "file tree operation failed", err)
}

// AbsPath exposes the resolved absolute path for a logical path, for
// collaborators (compress/decompress, SFTP) that need a real *os.File.
func (t *Tree) AbsPath(path string) (string, error) {
	return t.resolve(path)
}

// Base returns the workload's chroot base directory.
func (t *Tree) Base() string {
	return t.base
}
