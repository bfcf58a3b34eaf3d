package builtin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ioErrorMessage classifies a filesystem error into the IO sub-kinds of §7
// (permission, not-found, out-of-space, read-only).
func ioErrorMessage(err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "IO(not-found): " + err.Error()
	case errors.Is(err, os.ErrPermission):
		return "IO(permission): " + err.Error()
	case strings.Contains(err.Error(), "no space left"):
		return "IO(out-of-space): " + err.Error()
	case strings.Contains(err.Error(), "read-only file system"):
		return "IO(read-only): " + err.Error()
	default:
		return "IO: " + err.Error()
	}
}

// relativeTo returns path relative to root, falling back to the absolute
// path when it cannot be made relative.
func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// excludedDirs is the fixed set of directories grep_search/file_search skip
// while walking the tree, and that list_directory lists without descending
// into (§4.H).
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
	"vendor":       true,
	".cache":       true,
	"__pycache__":  true,
}

// binaryExtensions is the fixed set of binary file extensions grep_search
// skips.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".exe": true,
	".dll": true, ".so": true, ".dylib": true, ".woff": true, ".woff2": true,
	".mp3": true, ".mp4": true, ".mov": true, ".bin": true,
}

// matchGlob applies the simple glob rules of §4.H: "*.ext", "**/*.ext",
// "*name*", and plain substring matching.
func matchGlob(pattern, name string) bool {
	switch {
	case strings.HasPrefix(pattern, "**/"):
		pattern = strings.TrimPrefix(pattern, "**/")
		fallthrough
	case strings.HasPrefix(pattern, "*.") && !strings.Contains(pattern[2:], "*"):
		ok, _ := filepath.Match(pattern, name)
		return ok
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(name, pattern[1:len(pattern)-1])
	}
	if ok, err := filepath.Match(pattern, name); err == nil && ok {
		return true
	}
	return strings.Contains(name, pattern)
}
