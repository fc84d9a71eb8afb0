// Package truth builds the live ground-truth snapshot injected into every
// model-bound prompt and returned directly for fast-path queries.
package truth

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Unknown marks a snapshot field whose probe failed. Degrading a single
// field never fails the whole snapshot.
const Unknown = "unknown"

const probeTimeout = 2 * time.Second

// Snapshot is a small structured fact sheet: wall-clock time, repository
// state, and service identity. It is computed live on every call, never
// cached, so the model cannot contradict ground truth.
type Snapshot struct {
	Time     time.Time `json:"time"`
	Branch   string    `json:"branch"`
	Head     string    `json:"head"`
	Dirty    *bool     `json:"dirty,omitempty"`
	Identity string    `json:"identity"`
}

// VCSProber reports repository state. The default implementation shells out
// to git with a hard timeout; tests substitute a fake.
type VCSProber interface {
	Branch(ctx context.Context) (string, error)
	Head(ctx context.Context) (string, error)
	Dirty(ctx context.Context) (bool, error)
}

// Builder assembles snapshots from a clock, a VCS prober, and a fixed
// identity string.
type Builder struct {
	now      func() time.Time
	vcs      VCSProber
	identity string
}

// NewBuilder creates a Builder. Passing a nil clock uses time.Now; passing a
// nil prober degrades all VCS fields to unknown.
func NewBuilder(now func() time.Time, vcs VCSProber, identity string) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now, vcs: vcs, identity: identity}
}

// Build produces a fresh snapshot. VCS probe failures degrade the affected
// field to Unknown rather than failing the snapshot.
func (b *Builder) Build(ctx context.Context) Snapshot {
	s := Snapshot{
		Time:     b.now(),
		Branch:   Unknown,
		Head:     Unknown,
		Identity: b.identity,
	}
	if b.vcs == nil {
		return s
	}
	if branch, err := b.vcs.Branch(ctx); err == nil {
		s.Branch = branch
	}
	if head, err := b.vcs.Head(ctx); err == nil {
		s.Head = head
	}
	if dirty, err := b.vcs.Dirty(ctx); err == nil {
		s.Dirty = &dirty
	}
	return s
}

// Preamble renders the snapshot as a prompt preamble. Injected ahead of
// retrieved context so generated answers stay consistent with live state.
func (s Snapshot) Preamble() string {
	var sb strings.Builder
	sb.WriteString("[Ground Truth]\n")
	fmt.Fprintf(&sb, "Current time: %s\n", s.Time.Format(time.RFC1123))
	fmt.Fprintf(&sb, "Repository branch: %s\n", s.Branch)
	fmt.Fprintf(&sb, "Repository HEAD: %s\n", s.Head)
	if s.Dirty != nil {
		fmt.Fprintf(&sb, "Working tree dirty: %t\n", *s.Dirty)
	} else {
		sb.WriteString("Working tree dirty: unknown\n")
	}
	fmt.Fprintf(&sb, "Service: %s\n", s.Identity)
	return sb.String()
}

// GitProber probes a git repository via the git CLI with a per-command
// timeout. A hung git process degrades to unknown instead of blocking the
// request.
type GitProber struct {
	dir string
}

// NewGitProber returns a prober rooted at dir, or nil if dir does not look
// like a git checkout (no .git entry). The nil is returned as the interface
// type so Builder's nil check holds when the result is wired straight into
// NewBuilder.
func NewGitProber(dir string) VCSProber {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return nil
	}
	return &GitProber{dir: dir}
}

func (g *GitProber) Branch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (g *GitProber) Head(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--short", "HEAD")
}

func (g *GitProber) Dirty(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (g *GitProber) run(ctx context.Context, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = g.dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}
