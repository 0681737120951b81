// Package rules implements the deterministic safe/dangerous classifier
// (C3): a pure, synchronous function of a confirmation request, the
// worker's workspace root, and its dependency manifest.
package rules

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foreflux/conductor/internal/cachemanager"
	"github.com/foreflux/conductor/internal/orchestration/confirmation"
)

// Verdict is the Rule Engine's classification of a confirmation request.
type Verdict int

const (
	// Inconclusive means the engine could not classify the request; the
	// caller must escalate to the AI arbiter.
	Inconclusive Verdict = iota
	Approve
	Deny
)

// protectedArtifacts is the closed list of filesystem targets a
// FILE_DELETE confirmation is denied against. Grounded in
// SafetyRulesEngine.important_patterns (hybrid_engine.py).
var protectedArtifacts = []string{
	".git/",
	"config.py",
	"settings.py",
	".env",
	"requirements.txt",
	"setup.py",
	"pyproject.toml",
	"go.mod",
	"go.sum",
	"package.json",
	"package-lock.json",
}

// dangerousCommandFragments is the closed list of destructive shell
// fragments a COMMAND_EXECUTE confirmation is denied against. Grounded in
// SafetyRulesEngine.dangerous_commands (hybrid_engine.py).
var dangerousCommandFragments = []string{
	"rm -r",
	"rm -rf",
	"del /f /s /q",
	"format",
	"dd if=",
	"mkfs",
	"> /dev/sda",
}

// manifestTTL bounds how long a workspace's resolved dependency manifest
// is trusted before a fresh read is attempted.
const manifestTTL = 10 * time.Minute

// Engine evaluates confirmation requests against workspace-relative safety
// policy. It performs at most one cached read of the dependency manifest
// per workspace root and otherwise does no I/O.
type Engine struct {
	manifests *cachemanager.ReadThroughCache[string, map[string]struct{}, string]
}

// NewEngine constructs a Rule Engine backed by an in-memory manifest cache
// keyed by workspace root.
func NewEngine() *Engine {
	cache := cachemanager.NewInMemoryCacheManager[string, map[string]struct{}]("dependency-manifest", manifestTTL, 2*manifestTTL)
	return &Engine{
		manifests: cachemanager.NewReadThroughCache[string, map[string]struct{}, string](cache, loadManifest, false),
	}
}

// Evaluate classifies req relative to workspaceRoot, which must be an
// absolute path. It never blocks beyond a single cached manifest read and
// completes in well under 10ms on modest inputs.
func (e *Engine) Evaluate(ctx context.Context, req confirmation.Request, workspaceRoot string) Verdict {
	switch req.Kind {
	case confirmation.KindFileWrite, confirmation.KindFileRead:
		if path, ok := req.Extracted["file"]; ok && isInWorkspace(workspaceRoot, path) {
			return Approve
		}
		return Inconclusive

	case confirmation.KindPackageInstall:
		pkg, ok := req.Extracted["package"]
		if !ok {
			return Inconclusive
		}
		manifest, err := e.manifests.Get(ctx, workspaceRoot, workspaceRoot, manifestTTL)
		if err != nil {
			return Inconclusive
		}
		if isInManifest(manifest, pkg) {
			return Approve
		}
		return Inconclusive

	case confirmation.KindFileDelete:
		if path, ok := req.Extracted["file"]; ok && isProtectedArtifact(path) {
			return Deny
		}
		return Inconclusive

	case confirmation.KindCommandExecute:
		if cmd, ok := req.Extracted["command"]; ok && isDangerousCommand(cmd) {
			return Deny
		}
		return Inconclusive

	default:
		return Inconclusive
	}
}

// isInWorkspace reports whether path resolves to a location under root.
func isInWorkspace(root, path string) bool {
	if root == "" {
		return false
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	rel, err := filepath.Rel(root, filepath.Clean(candidate))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// isProtectedArtifact reports whether path matches a closed list of
// version-control metadata, environment files, lockfiles, or top-level
// config that must never be auto-deleted.
func isProtectedArtifact(path string) bool {
	cleaned := filepath.ToSlash(path)
	base := filepath.Base(cleaned)
	for _, pattern := range protectedArtifacts {
		if strings.HasSuffix(pattern, "/") {
			if strings.Contains(cleaned, strings.TrimSuffix(pattern, "/")) {
				return true
			}
			continue
		}
		if base == pattern {
			return true
		}
	}
	return false
}

// isDangerousCommand reports whether cmd contains a closed list of
// destructive shell fragments (recursive deletion, disk formatting, raw
// block-device writes).
func isDangerousCommand(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, frag := range dangerousCommandFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// isInManifest reports whether pkg (case-insensitive, version-suffix
// stripped) appears in the resolved dependency set.
func isInManifest(manifest map[string]struct{}, pkg string) bool {
	name := strings.ToLower(stripVersionSuffix(pkg))
	_, ok := manifest[name]
	return ok
}

// stripVersionSuffix removes a trailing version specifier such as
// "==1.2.3", ">=1.0", "@2.0.1", or "^1.0.0".
func stripVersionSuffix(pkg string) string {
	for _, sep := range []string{"==", ">=", "<=", "~=", "@", "^", "~", ">", "<"} {
		if idx := strings.Index(pkg, sep); idx > 0 {
			pkg = pkg[:idx]
		}
	}
	return strings.TrimSpace(pkg)
}

// loadManifest resolves a workspace's declared dependency set by trying,
// in order, requirements.txt, package.json, and go.mod — the multi-format
// discovery strategy SUPPLEMENTED from original_source/'s path_resolver.py
// instinct, resolving spec.md's open question on manifest-format discovery.
// A workspace with none of these manifests yields an empty (not missing)
// set: PACKAGE_INSTALL then stays inconclusive, never approved.
func loadManifest(_ context.Context, workspaceRoot string) (map[string]struct{}, error) {
	if deps, ok := readRequirementsTxt(filepath.Join(workspaceRoot, "requirements.txt")); ok {
		return deps, nil
	}
	if deps, ok := readPackageJSON(filepath.Join(workspaceRoot, "package.json")); ok {
		return deps, nil
	}
	if deps, ok := readGoMod(filepath.Join(workspaceRoot, "go.mod")); ok {
		return deps, nil
	}
	return map[string]struct{}{}, nil
}

func readRequirementsTxt(path string) (map[string]struct{}, bool) {
	f, err := os.Open(path) //nolint:gosec // G304: workspaceRoot is the worker's own sandbox directory
	if err != nil {
		return nil, false
	}
	defer f.Close()

	deps := map[string]struct{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name := strings.ToLower(stripVersionSuffix(line))
		if name != "" {
			deps[name] = struct{}{}
		}
	}
	return deps, true
}

func readPackageJSON(path string) (map[string]struct{}, bool) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: workspaceRoot is the worker's own sandbox directory
	if err != nil {
		return nil, false
	}

	var doc struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}

	deps := map[string]struct{}{}
	for name := range doc.Dependencies {
		deps[strings.ToLower(name)] = struct{}{}
	}
	for name := range doc.DevDependencies {
		deps[strings.ToLower(name)] = struct{}{}
	}
	return deps, true
}

func readGoMod(path string) (map[string]struct{}, bool) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: workspaceRoot is the worker's own sandbox directory
	if err != nil {
		return nil, false
	}

	deps := map[string]struct{}{}
	inBlock := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "require ("):
			inBlock = true
			continue
		case inBlock && line == ")":
			inBlock = false
			continue
		case inBlock:
			addModuleRequireLine(deps, line)
		case strings.HasPrefix(line, "require "):
			addModuleRequireLine(deps, strings.TrimPrefix(line, "require "))
		}
	}
	return deps, true
}

func addModuleRequireLine(deps map[string]struct{}, line string) {
	line = strings.TrimSuffix(strings.TrimSpace(line), "// indirect")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	modulePath := fields[0]
	deps[strings.ToLower(modulePath)] = struct{}{}
	if idx := strings.LastIndex(modulePath, "/"); idx != -1 {
		deps[strings.ToLower(modulePath[idx+1:])] = struct{}{}
	}
}
