// Copyright 2024 The git-upstream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gitrepo wraps a Git subprocess driver with the repository
// operations needed to locate, replay, and merge carried changes.
package gitrepo

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"gg-scm.io/pkg/git"
	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
)

// MinimumGitVersion is the oldest git release the tool drives.
var MinimumGitVersion = semver.MustParse("1.7.5")

var (
	sequenceEditorVersion = semver.MustParse("1.7.8")
	modernEpilogueVersion = semver.MustParse("2.6.0")
)

// Options configures Open.
type Options struct {
	// Dir is the working directory. Defaults to the process working
	// directory.
	Dir string

	// GitExe is the path to the git executable. If empty, git is
	// located through PATH.
	GitExe string

	// Env is the environment for git subprocesses. A nil Env uses the
	// process environment.
	Env []string

	// Log receives diagnostics. If nil, logging is discarded.
	Log *logrus.Logger
}

// Repo drives git subprocesses against a single repository.
type Repo struct {
	g       *git.Git
	exe     string
	dir     string
	env     []string
	log     *logrus.Logger
	version *semver.Version
}

// Open locates the git installation, verifies it meets
// MinimumGitVersion, and returns a Repo rooted at opts.Dir.
func Open(ctx context.Context, opts Options) (*Repo, error) {
	log := opts.Log
	if log == nil {
		log = logrus.New()
		log.SetOutput(nopWriter{})
	}
	exe := opts.GitExe
	if exe == "" {
		var err error
		exe, err = exec.LookPath("git")
		if err != nil {
			return nil, fmt.Errorf("locate git: %w", err)
		}
	}
	g, err := git.New(git.Options{
		GitExe: exe,
		Dir:    opts.Dir,
		Env:    opts.Env,
		LogHook: func(_ context.Context, args []string) {
			log.Debugf("exec: git %s", strings.Join(args, " "))
		},
	})
	if err != nil {
		return nil, err
	}
	r := &Repo{
		g:   g,
		exe: exe,
		dir: opts.Dir,
		env: opts.Env,
		log: log,
	}
	out, err := g.Output(ctx, "--version")
	if err != nil {
		return nil, fmt.Errorf("determine git version: %w", err)
	}
	r.version, err = parseGitVersion(out)
	if err != nil {
		return nil, err
	}
	if r.version.LessThan(MinimumGitVersion) {
		return nil, &RepoError{Msg: fmt.Sprintf("git version %s or later required, found %s", MinimumGitVersion, r.version)}
	}
	return r, nil
}

var gitVersionRE = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// parseGitVersion extracts a comparable version from "git --version"
// output. Release strings can carry more than three components
// ("1.7.12.4") or vendor suffixes, so only the first three are kept.
func parseGitVersion(out string) (*semver.Version, error) {
	m := gitVersionRE.FindStringSubmatch(out)
	if m == nil {
		return nil, &RepoError{Msg: fmt.Sprintf("cannot parse git version from %q", strings.TrimSpace(out))}
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	return semver.NewVersion(m[1] + "." + m[2] + "." + patch)
}

// Git returns the underlying driver.
func (r *Repo) Git() *git.Git {
	return r.g
}

// GitExe returns the path of the git executable in use.
func (r *Repo) GitExe() string {
	return r.exe
}

// Dir returns the working directory the repository was opened with.
// It may be empty, meaning the process working directory.
func (r *Repo) Dir() string {
	return r.dir
}

// Env returns the subprocess environment the repository was opened
// with. The caller must not mutate the returned slice.
func (r *Repo) Env() []string {
	return r.env
}

// Log returns the logger used for diagnostics.
func (r *Repo) Log() *logrus.Logger {
	return r.log
}

// Version returns the version of the underlying git installation.
func (r *Repo) Version() *semver.Version {
	return r.version
}

// SupportsSequenceEditor reports whether git honors the
// GIT_SEQUENCE_EDITOR variable (1.7.8 and later).
func (r *Repo) SupportsSequenceEditor() bool {
	return !r.version.LessThan(sequenceEditorVersion)
}

// ModernTodoEpilogue reports whether git writes the 2.6.0-style
// instruction sheet comments.
func (r *Repo) ModernTodoEpilogue() bool {
	return !r.version.LessThan(modernEpilogueVersion)
}

// Output runs git with the given arguments and returns its stdout.
func (r *Repo) Output(ctx context.Context, args ...string) (string, error) {
	return r.g.Output(ctx, args...)
}

// Run runs git with the given arguments, discarding stdout.
func (r *Repo) Run(ctx context.Context, args ...string) error {
	return r.g.Run(ctx, args...)
}

// RevParse resolves rev to a full hex object id.
func (r *Repo) RevParse(ctx context.Context, rev string) (string, error) {
	out, err := r.g.Output(ctx, "rev-parse", rev)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ResolveCommit resolves rev to the hex id of a commit, dereferencing
// tags. It returns a RefError if rev does not name a commit.
func (r *Repo) ResolveCommit(ctx context.Context, rev string) (string, error) {
	out, err := r.g.Output(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", &RefError{Ref: rev}
	}
	return strings.TrimSpace(out), nil
}

// IsValidCommit reports whether rev names a commit.
func (r *Repo) IsValidCommit(ctx context.Context, rev string) bool {
	_, err := r.ResolveCommit(ctx, rev)
	return err == nil
}

// ShortHash resolves rev to git's abbreviated hash.
func (r *Repo) ShortHash(ctx context.Context, rev string) (string, error) {
	out, err := r.g.Output(ctx, "rev-parse", "--short", rev)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// TreeHash resolves rev to the id of its tree object.
func (r *Repo) TreeHash(ctx context.Context, rev string) (string, error) {
	out, err := r.g.Output(ctx, "rev-parse", rev+"^{tree}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsBare reports whether the repository has no working tree.
func (r *Repo) IsBare(ctx context.Context) (bool, error) {
	out, err := r.g.Output(ctx, "rev-parse", "--is-bare-repository")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

// IsDetached reports whether HEAD points at a commit rather than a
// branch.
func (r *Repo) IsDetached(ctx context.Context) bool {
	_, err := r.g.Output(ctx, "symbolic-ref", "-q", "HEAD")
	return err != nil
}

// CurrentBranch returns the short name of the checked-out branch. It
// returns a RepoError if HEAD is detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.g.Output(ctx, "symbolic-ref", "-q", "--short", "HEAD")
	if err != nil {
		return "", &RepoError{Msg: "in 'detached HEAD' state"}
	}
	return strings.TrimSpace(out), nil
}

// GitDir returns the absolute path of the .git directory.
func (r *Repo) GitDir(ctx context.Context) (string, error) {
	return r.g.GitDir(ctx)
}

// WorkTree returns the absolute path of the working tree root.
func (r *Repo) WorkTree(ctx context.Context) (string, error) {
	return r.g.WorkTree(ctx)
}

// ForEachRef expands the given patterns with git's own ref matcher and
// returns one formatted line per matching ref.
func (r *Repo) ForEachRef(ctx context.Context, format string, patterns ...string) ([]string, error) {
	args := append([]string{"for-each-ref", "--format=" + format}, patterns...)
	out, err := r.g.Output(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// RevList runs git rev-list with the arguments exactly as given.
// Argument order is preserved because options such as --not apply to
// everything that follows them.
func (r *Repo) RevList(ctx context.Context, args ...string) ([]string, error) {
	out, err := r.g.Output(ctx, append([]string{"rev-list"}, args...)...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// MergeBase returns the best common ancestor of the two revisions.
// The second result is false when the revisions share no history.
func (r *Repo) MergeBase(ctx context.Context, a, b string) (string, bool, error) {
	out, err := r.g.Output(ctx, "merge-base", a, b)
	if err != nil {
		if exitCode(err) == 1 {
			return "", false, nil
		}
		return "", false, err
	}
	base := strings.TrimSpace(out)
	if base == "" {
		return "", false, nil
	}
	return base, true, nil
}

// IsAncestor reports whether a is an ancestor of b.
func (r *Repo) IsAncestor(ctx context.Context, a, b string) (bool, error) {
	return r.g.IsAncestor(ctx, a, b)
}

// Describe names rev in terms of the most recent reachable tag. If no
// tag describes it, ok is false.
func (r *Repo) Describe(ctx context.Context, rev string) (desc string, ok bool) {
	out, err := r.g.Output(ctx, "describe", "--tags", rev)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(out), true
}

// DescribeAlways is Describe falling back to an abbreviated commit id.
func (r *Repo) DescribeAlways(ctx context.Context, rev string) (string, error) {
	out, err := r.g.Output(ctx, "describe", "--always", "--tags", rev)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsTag reports whether rev names an existing tag.
func (r *Repo) IsTag(ctx context.Context, rev string) bool {
	err := r.g.Run(ctx, "show-ref", "--tags", "--quiet", rev)
	return err == nil
}

// BranchExists reports whether a local branch with the given short
// name exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	err := r.g.Run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// Config returns the value of a configuration key, or "" if unset.
func (r *Repo) Config(ctx context.Context, key string) string {
	out, err := r.g.Output(ctx, "config", key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Var returns the value of a git logical variable such as GIT_EDITOR.
func (r *Repo) Var(ctx context.Context, name string) string {
	out, err := r.g.Output(ctx, "var", name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// CommitterIdent returns "Name <email>" from the repository
// configuration.
func (r *Repo) CommitterIdent(ctx context.Context) (string, error) {
	name := r.Config(ctx, "user.name")
	email := r.Config(ctx, "user.email")
	if name == "" || email == "" {
		return "", &RepoError{Msg: "user.name and user.email must be configured"}
	}
	return fmt.Sprintf("%s <%s>", name, email), nil
}

// SetBranch moves the branch with the given short name to commit,
// resetting the working tree when the branch is currently checked out.
func (r *Repo) SetBranch(ctx context.Context, branch, commit string) error {
	cur, err := r.CurrentBranch(ctx)
	if err == nil && cur == branch {
		r.log.Infof("Resetting branch '%s' to '%s'", branch, commit)
		return r.g.Run(ctx, "reset", "--hard", commit)
	}
	r.log.Infof("Setting branch '%s' to '%s'", branch, commit)
	return r.g.Run(ctx, "branch", "--force", branch, commit)
}

func splitLines(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) {
	return len(p), nil
}
