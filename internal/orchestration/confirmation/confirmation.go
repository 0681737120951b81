// Package confirmation detects natural-language confirmation prompts in a
// worker's terminal output and classifies them by kind.
package confirmation

import "regexp"

// Kind classifies the intent of a confirmation prompt.
type Kind string

const (
	KindFileWrite        Kind = "FILE_WRITE"
	KindFileRead         Kind = "FILE_READ"
	KindFileDelete       Kind = "FILE_DELETE"
	KindPackageInstall   Kind = "PACKAGE_INSTALL"
	KindCommandExecute   Kind = "COMMAND_EXECUTE"
	KindNetworkAccess    Kind = "NETWORK_ACCESS"
	KindPermissionRequest Kind = "PERMISSION_REQUEST"
	KindUnknown          Kind = "UNKNOWN"
)

// Request is a detected confirmation prompt, ready for arbitration.
type Request struct {
	WorkerID   string
	Kind       Kind
	RawMessage string
	// Extracted holds kind-specific capture groups: "file", "command", "package".
	Extracted map[string]string
}

// rule pairs a compiled pattern with the kind it signals and the extracted
// key its first capture group (if any) is stored under.
type rule struct {
	pattern *regexp.Regexp
	kind    Kind
	key     string
}

// Patterns are matched in this exact order so positional capture-group
// semantics stay stable; grounded in the original orchestrator's
// confirmation_patterns table (worker_manager.py).
var rules = []rule{
	{regexp.MustCompile(`(?i)write\s+(?:to\s+)?(?:file\s+)?['"]([^'"]+)['"].*\?`), KindFileWrite, "file"},
	{regexp.MustCompile(`(?i)create\s+(?:file\s+)?['"]([^'"]+)['"].*\?`), KindFileWrite, "file"},
	{regexp.MustCompile(`(?i)delete\s+(?:file\s+)?['"]([^'"]+)['"].*\?`), KindFileDelete, "file"},
	{regexp.MustCompile(`(?i)remove\s+(?:file\s+)?['"]([^'"]+)['"].*\?`), KindFileDelete, "file"},
	{regexp.MustCompile(`(?i)read\s+(?:file\s+)?['"]([^'"]+)['"].*\?`), KindFileRead, "file"},
	{regexp.MustCompile(`(?i)execute\s+(?:command\s+)?['"]([^'"]+)['"].*\?`), KindCommandExecute, "command"},
	{regexp.MustCompile(`(?i)run\s+(?:command\s+)?['"]([^'"]+)['"].*\?`), KindCommandExecute, "command"},
	{regexp.MustCompile(`(?i)install\s+(?:package\s+)?['"]?([^'"?\s]+)['"]?.*\?`), KindPackageInstall, "package"},
	{regexp.MustCompile(`(?i)(?:do\s+you\s+want\s+to\s+)?(?:proceed|continue).*\?`), KindPermissionRequest, ""},
	{regexp.MustCompile(`(?i)allow.*\(y/n\)`), KindPermissionRequest, ""},
	{regexp.MustCompile(`(?i)approve.*\?`), KindPermissionRequest, ""},
}

// Detector matches worker output against the compiled pattern table.
// It holds no mutable state and is safe for concurrent use.
type Detector struct{}

// NewDetector returns a Detector ready to use.
func NewDetector() *Detector {
	return &Detector{}
}

// Patterns returns the compiled patterns in table order, for use as the
// blocking match set in a PTY Session's Expect call — the primitive that
// joins streaming capture with prompt detection (spec.md §4.1).
func (d *Detector) Patterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(rules))
	for i, r := range rules {
		out[i] = r.pattern
	}
	return out
}

// Detect scans text for the first matching confirmation pattern, in table
// order. It returns ok=false when no pattern matches — the caller should
// treat the text as ordinary worker output, not a confirmation.
func (d *Detector) Detect(workerID, text string) (Request, bool) {
	for _, r := range rules {
		loc := r.pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		match := text[loc[0]:loc[1]]
		extracted := map[string]string{}
		if r.key != "" && len(loc) >= 4 && loc[2] >= 0 {
			extracted[r.key] = text[loc[2]:loc[3]]
		}
		return Request{
			WorkerID:   workerID,
			Kind:       r.kind,
			RawMessage: match,
			Extracted:  extracted,
		}, true
	}
	return Request{}, false
}
