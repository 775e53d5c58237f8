// ABOUTME: Server identifier normalization and classification of connect references.
// ABOUTME: Maps script paths, package names and known IDs to spawn specs without touching processes.

package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/2389/toolchat-gateway/internal/mcp"
)

// ErrUnrecognizedServerRef indicates a connect reference that is neither a
// known ID, a runnable script nor a package name.
var ErrUnrecognizedServerRef = errors.New("unrecognized server reference")

// Normalize returns the identity key for a server ID: trimmed, lower-cased
// and with any leading "mcp-" and "server-" prefixes removed.
func Normalize(id string) string {
	s := strings.ToLower(id)
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "mcp-"):
			s = s[len("mcp-"):]
		case strings.HasPrefix(s, "server-"):
			s = s[len("server-"):]
		default:
			return s
		}
	}
}

// RefKind classifies a connect reference.
type RefKind string

const (
	RefKnown   RefKind = "known"
	RefScript  RefKind = "script"
	RefPackage RefKind = "package"
)

// Target is the classified form of a connect reference.
type Target struct {
	Kind RefKind
	ID   string
	// Spec is empty for RefKnown; the caller looks it up.
	Spec mcp.SpawnSpec
}

// scriptRunners maps script suffixes to the interpreter invocation.
var scriptRunners = map[string][]string{
	".js":  {"node"},
	".mjs": {"node"},
	".cjs": {"node"},
	".py":  {"python3"},
	".ts":  {"npx", "-y", "tsx"},
	".sh":  {"sh"},
}

var packagePattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[a-z0-9][a-z0-9._-]*(@[A-Za-z0-9._^~<>=-]+)?$`)

// Classify decides how to reach the server named by ref. Known IDs win over
// every other interpretation, then language-suffixed scripts, then package
// names. It depends only on its inputs.
func Classify(ref string, known func(id string) bool) (Target, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Target{}, fmt.Errorf("%w: empty reference", ErrUnrecognizedServerRef)
	}

	if id := Normalize(ref); id != "" && known != nil && known(id) {
		return Target{Kind: RefKnown, ID: id}, nil
	}

	ext := strings.ToLower(filepath.Ext(ref))
	if runner, ok := scriptRunners[ext]; ok {
		base := strings.TrimSuffix(filepath.Base(ref), filepath.Ext(ref))
		args := append(append([]string{}, runner[1:]...), ref)
		return Target{
			Kind: RefScript,
			ID:   Normalize(base),
			Spec: mcp.SpawnSpec{Command: runner[0], Args: args},
		}, nil
	}

	if packagePattern.MatchString(ref) {
		return Target{
			Kind: RefPackage,
			ID:   packageID(ref),
			Spec: mcp.SpawnSpec{Command: "npx", Args: []string{"-y", ref}},
		}, nil
	}

	return Target{}, fmt.Errorf("%w: %s", ErrUnrecognizedServerRef, ref)
}

// packageID derives a server ID from a package name: the last path segment
// without any version suffix.
func packageID(pkg string) string {
	name := pkg
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "@"); i > 0 {
		name = name[:i]
	}
	return Normalize(name)
}

// ConnectRef connects to a server given a known ID, a script path or a
// package name. Servers reached through a new script or package are added to
// the catalog so later sessions can reconnect by ID.
func (r *Registry) ConnectRef(ctx context.Context, ref string) (ServerInfo, error) {
	target, err := Classify(ref, r.known)
	if err != nil {
		return ServerInfo{}, err
	}

	if target.Kind == RefKnown {
		spec, ok := r.lookupSpec(target.ID)
		if !ok {
			return ServerInfo{}, fmt.Errorf("%w: %s", ErrServerNotFound, target.ID)
		}
		return r.Connect(ctx, target.ID, spec)
	}

	r.logger.Info("connecting ad-hoc server",
		"ref", ref,
		"kind", target.Kind,
		"server_id", target.ID,
		"command", target.Spec.Command,
	)

	info, err := r.Connect(ctx, target.ID, target.Spec)
	if err != nil {
		return ServerInfo{}, err
	}

	if r.catalog != nil {
		if _, exists := r.catalog.Lookup(target.ID); !exists {
			if err := r.catalog.Add(target.ID, target.Spec); err != nil {
				r.logger.Warn("failed to persist server to catalog", "server_id", target.ID, "error", err)
			}
		}
	}
	return info, nil
}

// known reports whether id has a live record or a catalog entry.
func (r *Registry) known(id string) bool {
	_, ok := r.lookupSpec(id)
	return ok
}

func (r *Registry) lookupSpec(id string) (mcp.SpawnSpec, bool) {
	if spec, ok := r.Spec(id); ok {
		return spec, true
	}
	if r.catalog != nil {
		return r.catalog.Lookup(id)
	}
	return mcp.SpawnSpec{}, false
}
