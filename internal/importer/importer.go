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

// Package importer replays locally carried changes onto a new
// upstream revision and merges the result back into the target branch.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"github.com/openstack-archive/git-upstream/internal/search"
	"github.com/sirupsen/logrus"
)

// ImportError indicates the import cannot proceed or complete.
type ImportError struct {
	Msg string
}

func (e *ImportError) Error() string {
	return e.Msg
}

// RebaseError indicates a non-zero exit from a driven rebase.
type RebaseError struct {
	Msg    string
	Output string
}

func (e *RebaseError) Error() string {
	return e.Msg
}

// Importer holds the state of one import invocation.
type Importer struct {
	repo *gitrepo.Repo
	log  *logrus.Logger

	branch       string
	upstream     string
	template     string
	importBranch string
	extras       []string
}

// New validates the involved refs and returns an importer targeting
// branch. A branch of "HEAD" resolves to the checked-out branch.
// importBranch is either a template containing the {describe}
// placeholder, expanded by CreateImport, or a concrete branch name
// (the --finish path).
func New(ctx context.Context, repo *gitrepo.Repo, branch, upstream, importBranch string, extras []string) (*Importer, error) {
	bare, err := repo.IsBare(ctx)
	if err != nil {
		return nil, err
	}
	if bare {
		return nil, &gitrepo.RepoError{Msg: "cannot perform imports in bare repos"}
	}
	if branch == "HEAD" {
		branch, err = repo.CurrentBranch(ctx)
		if err != nil {
			return nil, err
		}
	}
	imp := &Importer{
		repo:         repo,
		log:          repo.Log(),
		branch:       branch,
		upstream:     upstream,
		template:     importBranch,
		importBranch: importBranch,
		extras:       extras,
	}
	invalid := false
	for _, ref := range append([]string{branch, upstream}, extras...) {
		if !repo.IsValidCommit(ctx, ref) {
			imp.log.Errorf("Specified commit(ish) does not exist: '%s'", ref)
			invalid = true
		}
	}
	if invalid {
		return nil, &gitrepo.RefError{Ref: "invalid branch/tag/sha1"}
	}
	return imp, nil
}

// Branch returns the target branch.
func (i *Importer) Branch() string {
	return i.branch
}

// Upstream returns the upstream ref being imported.
func (i *Importer) Upstream() string {
	return i.upstream
}

// ImportBranch returns the import branch name; before CreateImport
// runs this may still be the unexpanded template.
func (i *Importer) ImportBranch() string {
	return i.importBranch
}

// ExtraBranches returns the auxiliary branches to co-merge.
func (i *Importer) ExtraBranches() []string {
	return i.extras
}

// setBranch forcibly points branch at commit, optionally checking it
// out, resetting the working tree if it is the current branch.
func (i *Importer) setBranch(ctx context.Context, branch, commit string, checkout bool) error {
	if checkout {
		cur, err := i.repo.CurrentBranch(ctx)
		if err != nil || cur != branch {
			return i.repo.Run(ctx, "checkout", "-B", branch, commit)
		}
	}
	return i.repo.SetBranch(ctx, branch, commit)
}

// describeCommit produces the {describe} expansion for the given
// upstream commit: the ref itself when importing a tag, otherwise a
// tag description, followed by the abbreviated id of each auxiliary
// branch.
func (i *Importer) describeCommit(ctx context.Context, commit string) (string, error) {
	var describe string
	if i.repo.IsTag(ctx, commit) {
		describe = commit
	} else {
		var ok bool
		describe, ok = i.repo.Describe(ctx, commit)
		if !ok {
			i.log.Warn("No tag describes the upstream branch")
			var err error
			describe, err = i.repo.DescribeAlways(ctx, commit)
			if err != nil {
				return "", err
			}
		}
	}
	parts := []string{describe}
	for _, b := range i.extras {
		short, err := i.repo.ShortHash(ctx, b)
		if err != nil {
			return "", err
		}
		parts = append(parts, short)
	}
	return strings.Join(parts, "-"), nil
}

// CreateImport creates the <import>-base branch at the given commit
// (default the upstream ref) and unions any auxiliary branches into
// it. The import branch name is derived from the template here.
func (i *Importer) CreateImport(ctx context.Context, commit string, checkout, force bool) error {
	if i.repo.IsDetached(ctx) {
		return &gitrepo.RepoError{Msg: "in 'detached HEAD' state"}
	}
	if commit == "" {
		commit = i.upstream
	}
	if _, err := i.repo.ResolveCommit(ctx, commit); err != nil {
		i.log.Errorf("Invalid commit '%s' specified to import from", commit)
		return err
	}

	describe, err := i.describeCommit(ctx, commit)
	if err != nil {
		return err
	}
	i.importBranch = strings.ReplaceAll(i.template, "{describe}", describe)
	base := i.importBranch + "-base"
	i.log.Debugf("Creating and switching to import branch base '%s' created from '%s' (%s)",
		base, i.upstream, commit)

	if i.repo.BranchExists(ctx, base) && !force {
		return &ImportError{Msg: fmt.Sprintf(
			"import branch %q already exists, set 'force' to replace", i.importBranch)}
	}
	if err := i.setBranch(ctx, base, commit, checkout); err != nil {
		return err
	}

	if len(i.extras) == 0 {
		return nil
	}
	i.log.Infof("Merging additional branch(es) '%s' into import branch '%s'",
		strings.Join(i.extras, ", "), base)
	if err := i.repo.Run(ctx, "checkout", base); err != nil {
		return err
	}
	// A normal octopus merge refuses branches without a common
	// ancestor, so record the parents with ours and splice the trees
	// together through the index instead.
	if err := i.mergeOurs(ctx, i.extras); err != nil {
		return err
	}
	if err := i.repo.Run(ctx, "read-tree", "--empty"); err != nil {
		return err
	}
	if err := i.repo.Run(ctx, append([]string{"read-tree", "HEAD"}, i.extras...)...); err != nil {
		return err
	}
	if err := i.repo.Run(ctx, "checkout", "--", "."); err != nil {
		return err
	}
	return i.repo.Run(ctx, "commit", "--no-edit")
}

func (i *Importer) mergeOurs(ctx context.Context, revs []string) error {
	args := append([]string{"merge", "-s", "ours", "--no-commit"}, revs...)
	if err := i.repo.Run(ctx, args...); err != nil {
		withFlag := append([]string{"merge", "-s", "ours", "--no-commit", "--allow-unrelated-histories"}, revs...)
		if retryErr := i.repo.Run(ctx, withFlag...); retryErr != nil {
			return err
		}
	}
	return nil
}

// AlreadySynced reports whether the tracked branch is already at the
// requested upstream tip with the same set of auxiliary branches
// merged, in which case there is nothing to import.
func (i *Importer) AlreadySynced(ctx context.Context, strategy *search.Strategy) (bool, error) {
	raw, err := strategy.Commits(ctx)
	if err != nil {
		return false, err
	}
	prevUpstream, err := strategy.PreviousUpstream(ctx)
	if err != nil {
		return false, err
	}

	// If the oldest carried commit is a merge, the auxiliary branches
	// merged by the previous import can be read off its parents.
	var additional map[string]bool
	if len(raw) > 0 {
		if prevMerge := raw[len(raw)-1]; prevMerge.IsMerge() {
			additional = make(map[string]bool)
			for _, p := range prevMerge.Parents {
				if p != prevUpstream {
					additional[p] = true
				}
			}
			if len(additional) > 0 && len(i.extras) == 0 {
				i.log.Warn("Previous import merged additional branches but none have been specified on the command line for this import.")
			}
		}
	}

	tip, err := i.repo.RevParse(ctx, i.upstream)
	if err != nil {
		return false, err
	}
	if prevUpstream != tip {
		return false, nil
	}
	i.log.Infof("%s already at latest upstream commit: '%s'", i.branch, prevUpstream)
	if len(additional) == 0 {
		return true, nil
	}
	requested := make(map[string]bool, len(i.extras))
	for _, b := range i.extras {
		c, err := i.repo.ResolveCommit(ctx, b)
		if err != nil {
			return false, err
		}
		requested[c] = true
	}
	if len(requested) != len(additional) {
		return false, nil
	}
	for c := range requested {
		if !additional[c] {
			return false, nil
		}
	}
	return true, nil
}

// linearise rewrites branch into a linear sequence of the raw carried
// commits on top of previousImport, so that an aborted rebase later
// leaves behind a state worth keeping. sequence is newest first.
func (i *Importer) linearise(ctx context.Context, branch string, sequence []*gitrepo.Commit, previousImport string) error {
	counter := len(sequence) - 1
	ancestors := make(map[string]bool)

	if err := i.setBranch(ctx, branch, previousImport, true); err != nil {
		return err
	}
	root := previousImport
	for counter > 0 {
		ancestors[root] = true

		// Scan from the oldest remaining commit toward the tip for a
		// merge pulling in history outside the walked ancestry.
		idx := 0
		for j := counter - 1; j >= 0; j-- {
			commit := sequence[j]
			if !commit.IsMerge() {
				ancestors[commit.Hash] = true
				continue
			}
			outside := false
			for _, p := range commit.Parents {
				if !ancestors[p] {
					outside = true
					break
				}
			}
			if outside {
				idx = j + 1
				break
			}
			ancestors[commit.Hash] = true
		}
		tip := sequence[idx].Hash

		previous, err := i.repo.RevParse(ctx, branch)
		if err != nil {
			return err
		}
		if root == previous && idx == 0 {
			i.log.Info("Already in a linear layout")
			return nil
		}
		i.log.Infof("Rebasing from %s to %s onto '%s'", root, tip, previous)
		if err := i.setBranch(ctx, branch, tip, false); err != nil {
			return err
		}
		err = i.repo.Run(ctx, "rebase", "-p", "--onto", previous, root, branch)
		if err != nil {
			i.repo.Run(ctx, "rebase", "--abort")
			return err
		}
		counter = idx - 1
		if counter < 0 {
			break
		}
		root = sequence[counter].Hash
	}
	return nil
}

// Apply replays the strategy's filtered commits onto <import>-base by
// driving an interactive rebase. It returns applied=false without an
// error when the user cancelled. finishCmdline, when non-nil, is the
// command line the rebase runs afterwards to perform the merge step;
// with an empty commit list it also selects whether Finish runs
// directly.
func (i *Importer) Apply(ctx context.Context, strategy *search.Strategy, interactive bool, finishCmdline, helperCmdline []string) (bool, error) {
	commits, err := strategy.Filtered(ctx)
	if err != nil {
		return false, err
	}
	if len(commits) == 0 {
		i.log.Info("All carried changes gone upstream")
		if err := i.repo.SetBranch(ctx, i.importBranch, i.upstream); err != nil {
			return false, err
		}
		if finishCmdline == nil {
			return true, nil
		}
		if err := i.Finish(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	i.log.Infof("Creating import branch '%s' from '%s' in prep to linearize the local changes before transposing to the new upstream",
		i.importBranch, i.branch)
	if err := i.repo.SetBranch(ctx, i.importBranch, i.branch); err != nil {
		return false, err
	}

	// Best effort: a clean linear branch means a later git rebase
	// --abort leaves something usable rather than a half-merged
	// history.
	i.log.Info("Attempting to linearise previous changes")
	raw, err := strategy.Commits(ctx)
	if err != nil {
		return false, err
	}
	prevUpstream, err := strategy.PreviousUpstream(ctx)
	if err != nil {
		return false, err
	}
	if err := i.linearise(ctx, i.importBranch, raw, prevUpstream); err != nil {
		i.log.Warn("Linearisation of local changes failed; tidying up so a later abort stays safe. Do not Ctrl+C unless you wish to clean up your git repository by hand.")
		if err := i.repo.SetBranch(ctx, i.importBranch, i.branch); err != nil {
			return false, err
		}
	}

	base := i.importBranch + "-base"
	first := commits[0]
	i.log.Infof("Rebasing changes, dropping merges through editor: git rebase --onto %s %s %s",
		base, first.Parents[0], i.importBranch)
	editor := NewRebaseEditor(i.repo, finishCmdline, interactive, helperCmdline)
	cancelled, err := editor.Run(ctx, commits, first.Parents[0], i.importBranch, base)
	if err != nil {
		var rebaseErr *RebaseError
		if errors.As(err, &rebaseErr) && rebaseErr.Output != "" {
			i.log.Info(rebaseErr.Output)
		}
		return false, err
	}
	if cancelled {
		i.log.Info("Cancelled by user")
		return false, nil
	}
	i.log.Info("Successfully applied all locally carried changes")
	return true, i.repo.Run(ctx, "checkout", i.branch)
}

// Finish merges the import branch into the target branch with a merge
// commit whose tree is taken wholesale from the import branch. It can
// run from the detached HEAD inside the rebase exec step, in which
// case the detached commit is checked out again at the end so the
// rebase concludes cleanly.
func (i *Importer) Finish(ctx context.Context) error {
	i.log.Infof("Merging import to requested branch '%s'", i.branch)
	inRebase := i.repo.IsDetached(ctx)
	targetSha := i.importBranch
	if inRebase {
		var err error
		targetSha, err = i.repo.RevParse(ctx, "HEAD")
		if err != nil {
			return err
		}
	}
	if err := i.repo.Run(ctx, "checkout", i.branch); err != nil {
		return err
	}
	currentSha, err := i.repo.RevParse(ctx, "HEAD")
	if err != nil {
		return err
	}

	message := fmt.Sprintf("Merge branch '%s' into %s\n\nImport of '%s' into '%s'.",
		i.importBranch, i.branch, i.upstream, i.branch)

	restore := func(cause error) error {
		i.log.Errorf("Failed to finish import by merging branch '%s' into and replacing the contents of '%s'",
			i.importBranch, i.branch)
		if err := i.repo.SetBranch(ctx, i.branch, currentSha); err != nil {
			i.log.Errorf("Failed to restore '%s' to '%s': %v", i.branch, currentSha, err)
		}
		return cause
	}

	// Invert the ours strategy: record the parents normally, then
	// replace the resulting tree with the import's.
	i.log.Infof("Merging import branch (%s) to HEAD and ignoring changes: git merge -s ours --no-commit %s",
		i.importBranch, targetSha)
	if err := i.mergeOurs(ctx, []string{targetSha}); err != nil {
		return restore(err)
	}
	i.log.Infof("Replacing tree contents with those from the import branch (%s): git read-tree -u --reset %s",
		i.importBranch, targetSha)
	if err := i.repo.Run(ctx, "read-tree", "-u", "--reset", targetSha); err != nil {
		return restore(err)
	}
	if err := i.repo.Run(ctx, "commit", "-m", message); err != nil {
		return restore(err)
	}

	headTree, err := i.repo.TreeHash(ctx, "HEAD")
	if err != nil {
		return restore(err)
	}
	importTree, err := i.repo.TreeHash(ctx, targetSha)
	if err != nil {
		return restore(err)
	}
	if headTree != importTree {
		return restore(&ImportError{Msg: "resulting tree does not match import"})
	}

	if inRebase {
		i.log.Info("Finishing from inside a rebase; returning to the detached commit")
		if err := i.repo.Run(ctx, "checkout", targetSha); err != nil {
			return err
		}
	}
	return nil
}
