package execution

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is a handle to a path under (or outside) the run's working
// directory. Handles are pre-allocated before the computation that
// populates them completes, so the naming registry guarantees two
// concurrently issued handles never collide.
type File struct {
	path string
}

// ExternalFile wraps an existing path outside the naming registry.
func ExternalFile(path string) File { return File{path: path} }

// Path returns the filesystem path of the handle.
func (f File) Path() string { return f.path }

// IsZero reports whether the handle refers to no file at all.
func (f File) IsZero() bool { return f.path == "" }

type fileKey struct {
	prefix string
	suffix string
}

// filePadding is the width of the hexadecimal counter in generated names.
const filePadding = 6

// NewFile issues a fresh handle named prefix + zero-padded hex counter +
// suffix under the working directory. The prefix must end in '_' and the
// suffix must start with '.'. The per-(prefix, suffix) counter is strictly
// increasing and never reused within a process lifetime.
func (ec *Context) NewFile(prefix, suffix string) (File, error) {
	if len(prefix) == 0 || prefix[len(prefix)-1] != '_' {
		return File{}, fmt.Errorf("file prefix %q must end in '_'", prefix)
	}
	if len(suffix) == 0 || suffix[0] != '.' {
		return File{}, fmt.Errorf("file suffix %q must start with '.'", suffix)
	}
	key := fileKey{prefix: prefix, suffix: suffix}
	ec.fileMu.Lock()
	defer ec.fileMu.Unlock()
	index := ec.fileIndex[key]
	if index >= 1<<(4*filePadding) {
		return File{}, fmt.Errorf("file index for %q/%q exhausted", prefix, suffix)
	}
	ec.fileIndex[key] = index + 1
	name := fmt.Sprintf("%s%0*x%s", prefix, filePadding, index, suffix)
	return File{path: filepath.Join(ec.dir, name)}, nil
}

// CopyFile copies src to dst, creating or truncating dst.
func CopyFile(src, dst File) error {
	in, err := os.Open(src.Path())
	if err != nil {
		return fmt.Errorf("opening %s: %w", src.Path(), err)
	}
	defer in.Close()
	out, err := os.Create(dst.Path())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst.Path(), err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src.Path(), dst.Path(), err)
	}
	return out.Close()
}
