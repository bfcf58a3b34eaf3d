// Package safety classifies commands, paths, and argument strings as
// permitted or forbidden, and enforces the workspace's resource caps.
package safety

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Mode is the active safety mode for the running session.
type Mode string

const (
	ModeDryRun    Mode = "dry-run"
	ModeReview    Mode = "review"
	ModeAutoApply Mode = "auto-apply"
)

// ParseMode validates a raw mode string from the environment or a
// slash-command (§6 Safety mode selection).
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeDryRun, ModeReview, ModeAutoApply:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("safety: unknown mode %q", raw)
	}
}

// Policy is the record described in §3 Data Model: mode, optional
// allow-list, deny-list, and a maximum command duration. Deny-list takes
// precedence; a non-empty allow-list is authoritative.
type Policy struct {
	Mode                Mode
	AllowList           []string
	DenyList            []string
	MaxCommandDurationMs int
}

// DefaultDenyList mirrors §4.A: destructive filesystem commands,
// system-control, package managers, privilege-changing commands,
// network-fetch tools, and process-killing commands.
var DefaultDenyList = []string{
	"rm", "rmdir", "dd", "mkfs", "mkfs.ext4", "fdisk", "parted", "format",
	"shutdown", "reboot", "halt", "poweroff", "init",
	"apt", "apt-get", "yum", "dnf", "brew", "npm", "pip", "pip3", "gem", "cargo",
	"sudo", "su", "chown", "chmod", "passwd",
	"curl", "wget", "nc", "netcat",
	"kill", "killall", "pkill",
}

var stripExtensions = []string{".exe", ".cmd", ".bat", ".sh", ".ps1"}

// forbiddenMetacharacters enumerates the shell-metacharacter set of §4.A:
// this guard fires even when the underlying runner uses a shell, since the
// shell flag may legitimately be true on one platform.
var forbiddenMetacharacters = []string{";", "`", "$(", "${", "||", "&&", "\r", "\n"}

// NewDefaultPolicy builds a Policy with the built-in deny-list and a
// 5-minute default command duration cap.
func NewDefaultPolicy(mode Mode) Policy {
	return Policy{
		Mode:                 mode,
		DenyList:             append([]string(nil), DefaultDenyList...),
		MaxCommandDurationMs: 5 * 60 * 1000,
	}
}

// Kind distinguishes the two check failures the policy can produce.
type Kind string

const (
	KindCommandDenied Kind = "command_denied"
	KindMetacharacter Kind = "metacharacter"
)

// Violation is returned when CheckCommand rejects an invocation.
type Violation struct {
	Kind    Kind
	Message string
}

func (v Violation) Error() string { return v.Message }

// BaseName extracts the base command name per §4.A: first whitespace
// token, path tail, strip platform extensions, lowercase.
func BaseName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	first := fields[0]
	base := filepath.Base(first)
	lower := strings.ToLower(base)
	for _, ext := range stripExtensions {
		lower = strings.TrimSuffix(lower, ext)
	}
	return lower
}

// ContainsMetacharacter reports whether s contains any forbidden
// shell-metacharacter sequence.
func ContainsMetacharacter(s string) bool {
	for _, m := range forbiddenMetacharacters {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// CheckCommand runs the command-name check then the shell-metacharacter
// check across the command token and every argument. Either failure
// produces a Violation before any process is spawned.
func (p Policy) CheckCommand(command string, args []string) *Violation {
	base := BaseName(command)

	if len(p.AllowList) > 0 {
		if !containsNormalized(p.AllowList, base) && !containsExact(p.AllowList, command) {
			return &Violation{Kind: KindCommandDenied, Message: fmt.Sprintf("blocked by policy: %q is not on the allow-list", base)}
		}
	}
	if containsNormalized(p.DenyList, base) || containsExact(p.DenyList, command) {
		return &Violation{Kind: KindCommandDenied, Message: fmt.Sprintf("blocked by policy: %q is on the deny-list", base)}
	}

	if ContainsMetacharacter(command) {
		return &Violation{Kind: KindMetacharacter, Message: fmt.Sprintf("blocked by policy: %q contains a forbidden shell metacharacter", command)}
	}
	for _, a := range args {
		if ContainsMetacharacter(a) {
			return &Violation{Kind: KindMetacharacter, Message: fmt.Sprintf("blocked by policy: argument %q contains a forbidden shell metacharacter", a)}
		}
	}
	return nil
}

func containsNormalized(list []string, base string) bool {
	for _, item := range list {
		if BaseName(item) == base {
			return true
		}
	}
	return false
}

func containsExact(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ModeEnv formats the MODE=<mode> environment entry the command runner
// injects into the child process (§4.B).
func (p Policy) ModeEnv() string {
	return "MODE=" + string(p.Mode)
}

// DurationOrDefault returns MaxCommandDurationMs, applying the 5-minute
// default when unset.
func (p Policy) DurationOrDefault() int {
	if p.MaxCommandDurationMs <= 0 {
		return 5 * 60 * 1000
	}
	return p.MaxCommandDurationMs
}

// FormatDurationMs is a small helper used by callers rendering the timeout
// into log lines and diagnostics.
func FormatDurationMs(ms int) string {
	return strconv.Itoa(ms) + "ms"
}
