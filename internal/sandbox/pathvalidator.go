// Package sandbox confines filesystem and process access to the workspace
// root: path normalization/confinement (§4.C) and child-process execution
// under a timeout and output caps (§4.B).
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/nyxforge/codeagent/internal/obslog"
)

// sensitiveDirs lists system roots, key stores, cloud credential caches, and
// platform application-data roots the validator refuses regardless of
// workspace confinement.
var sensitiveDirs = []string{
	"/etc", "/root/.ssh", "/root/.aws", "/root/.gnupg", "/root/.config/gcloud",
	"/var/run/secrets", "/proc", "/sys",
}

func init() {
	if home, err := os.UserHomeDir(); err == nil {
		sensitiveDirs = append(sensitiveDirs,
			filepath.Join(home, ".ssh"),
			filepath.Join(home, ".aws"),
			filepath.Join(home, ".gnupg"),
			filepath.Join(home, ".config", "gcloud"),
			filepath.Join(home, "Library", "Application Support"),
			filepath.Join(home, "AppData"),
		)
	}
}

// PathValidator normalizes, resolves, and confines paths to a workspace
// root, per §4.C.
type PathValidator struct {
	root string
}

// NewPathValidator builds a validator rooted at workspaceRoot.
func NewPathValidator(workspaceRoot string) (*PathValidator, error) {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve workspace root: %w", err)
	}
	return &PathValidator{root: filepath.Clean(abs)}, nil
}

// ErrPathInvalid is the error kind surfaced for every validator rejection
// (§7 Error Handling Design).
type ErrPathInvalid struct{ Reason string }

func (e ErrPathInvalid) Error() string { return "PathInvalid: " + e.Reason }

// Validate runs the ordered checks of §4.C and returns the normalized
// absolute path on success.
func (v *PathValidator) Validate(input string) (string, error) {
	reject := func(reason string) (string, error) {
		obslog.PathRejected(input, reason)
		return "", ErrPathInvalid{Reason: reason}
	}

	if strings.TrimSpace(input) == "" {
		return reject("empty path")
	}
	if strings.ContainsRune(input, 0) {
		return reject("path contains NUL byte")
	}
	if hasReservedMetacharacters(input) {
		return reject("path contains reserved characters")
	}
	if containsDotDotSegment(input) {
		return reject("path traversal (..) is not allowed")
	}

	var abs string
	if filepath.IsAbs(input) {
		abs = filepath.Clean(input)
	} else {
		abs = filepath.Clean(filepath.Join(v.root, input))
	}

	if !isWithin(abs, v.root) {
		return reject(fmt.Sprintf("%q escapes workspace root %q", input, v.root))
	}

	if sensitive, dir := isSensitive(abs); sensitive {
		return reject(fmt.Sprintf("%q is within the protected directory %q", abs, dir))
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = filepath.Clean(resolved)
		if !isWithin(resolved, v.root) {
			return reject(fmt.Sprintf("%q resolves through a symlink outside the workspace", input))
		}
	}

	return abs, nil
}

// Root returns the workspace root this validator confines paths to.
func (v *PathValidator) Root() string { return v.root }

func containsDotDotSegment(p string) bool {
	p = filepath.ToSlash(p)
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func hasReservedMetacharacters(p string) bool {
	if runtime.GOOS != "windows" {
		return false
	}
	return strings.ContainsAny(p, "<>\"|?*")
}

func isWithin(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.HasPrefix(strings.ToLower(path), strings.ToLower(root))
	}
	return strings.HasPrefix(path, root)
}

func isSensitive(abs string) (bool, string) {
	caseInsensitive := runtime.GOOS == "windows" || runtime.GOOS == "darwin"
	for _, dir := range sensitiveDirs {
		clean := filepath.Clean(dir)
		if isWithinCase(abs, clean, caseInsensitive) {
			return true, clean
		}
	}
	return false, ""
}

func isWithinCase(path, prefix string, caseInsensitive bool) bool {
	if caseInsensitive {
		path = strings.ToLower(path)
		prefix = strings.ToLower(prefix)
	}
	sep := string(filepath.Separator)
	if path == prefix {
		return true
	}
	if !strings.HasSuffix(prefix, sep) {
		prefix += sep
	}
	return strings.HasPrefix(path, prefix)
}
