// Package static serves regular files from a directory confined with os.Root.
package static

import (
	stderrors "errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"pubsrv/internal/errors"
)

// DefaultContentType is sent when the extension has no registered type.
const DefaultContentType = "application/octet-stream"

// Responder serves GET and HEAD requests for regular files under a root
// directory. Lookups that find nothing are misses, not errors; the caller
// decides what to do next.
type Responder struct {
	root *os.Root
	dir  string
}

// Open opens dir as the static root. The directory handle is held until
// Close, so renaming or replacing dir afterwards has no effect.
func Open(dir string) (*Responder, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Responder{root: root, dir: dir}, nil
}

// Disabled returns a Responder that misses every lookup.
func Disabled() *Responder {
	return &Responder{}
}

// Dir returns the directory being served, or "" when disabled.
func (s *Responder) Dir() string {
	return s.dir
}

// Close releases the root directory handle.
func (s *Responder) Close() error {
	if s.root == nil {
		return nil
	}
	return s.root.Close()
}

// Serve writes the file named by r's path if there is one. It reports
// whether a response was written. Errors are faults: the file existed but
// could not be opened or read.
func (s *Responder) Serve(w http.ResponseWriter, r *http.Request) (bool, error) {
	if s.root == nil {
		return false, nil
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false, nil
	}

	name, ok := Resolve(r.URL.Path)
	if !ok {
		return false, nil
	}

	f, err := s.root.Open(name)
	if err != nil {
		if isMiss(err) {
			return false, nil
		}
		return false, errors.Wrapf(errors.HandlerFault, err, "open %s", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, errors.Wrapf(errors.HandlerFault, err, "stat %s", name)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	w.Header().Set("Content-Type", ContentType(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
	return true, nil
}

// Resolve maps a URL path to a slash-separated name relative to the root.
// It returns false for the root itself and for any path with a segment
// starting with a dot, so dotfiles are never served. Cleaning against "/"
// removes every ".." before the name reaches the filesystem.
func Resolve(urlPath string) (string, bool) {
	if strings.IndexByte(urlPath, 0) >= 0 {
		return "", false
	}
	cleaned := path.Clean("/" + urlPath)
	name := strings.TrimPrefix(cleaned, "/")
	if name == "" {
		return "", false
	}
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", false
	}
	return name, true
}

// ContentType infers the content type from the file extension.
func ContentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return DefaultContentType
}

// isMiss reports whether an open error means "no such file here" rather
// than a fault. Permission errors are faults; escapes through symlinks are
// misses.
func isMiss(err error) bool {
	if stderrors.Is(err, fs.ErrPermission) {
		return false
	}
	if stderrors.Is(err, fs.ErrNotExist) ||
		stderrors.Is(err, syscall.ENOTDIR) ||
		stderrors.Is(err, syscall.ENAMETOOLONG) ||
		stderrors.Is(err, syscall.ELOOP) ||
		stderrors.Is(err, fs.ErrInvalid) {
		return true
	}
	var pathErr *fs.PathError
	if stderrors.As(err, &pathErr) && strings.Contains(pathErr.Err.Error(), "escapes") {
		return true
	}
	return false
}
