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

// Package search locates the previous import point in a downstream
// branch and enumerates the carried changes to replay.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"golang.org/x/exp/slices"
)

// NoCommonAncestorError indicates that no ref matching the search
// patterns shares history with the target branch.
type NoCommonAncestorError struct {
	Branch string
}

func (e *NoCommonAncestorError) Error() string {
	return fmt.Sprintf("no common ancestor between %q and any ref matching the search patterns", e.Branch)
}

// Searcher finds the most recent merge base between a target branch
// and any ref matching a set of upstream patterns, and lists the
// commits carried on the branch past that point.
//
// While git rev-list has a glob option to check references, the
// pattern cannot be anchored: "upstream/*" would also match
// refs/remotes/origin/other/upstream/area. Expansion therefore goes
// through git for-each-ref, whose patterns anchor at each namespace
// root.
type Searcher struct {
	repo       *gitrepo.Repo
	branch     string
	patterns   []string
	remotes    []string
	searchTags bool

	commit string // located previous upstream, cached by Find
}

// NewSearcher returns a searcher over the given target branch.
// Patterns default to upstream/* when none are given; remotes, when
// non-empty, restrict remote-tracking expansion to the named remotes.
func NewSearcher(repo *gitrepo.Repo, branch string, patterns []string, searchTags bool, remotes ...string) *Searcher {
	if len(patterns) == 0 {
		patterns = []string{"upstream/*"}
	}
	return &Searcher{
		repo:       repo,
		branch:     branch,
		patterns:   patterns,
		remotes:    remotes,
		searchTags: searchTags,
	}
}

// Branch returns the target branch being searched.
func (s *Searcher) Branch() string {
	return s.branch
}

// refPatterns expands the configured patterns into anchored
// for-each-ref patterns across the local, remote-tracking, and
// (optionally) tag namespaces.
func (s *Searcher) refPatterns() []string {
	var refs []string
	for _, p := range s.patterns {
		refs = append(refs, "refs/heads/"+p)
	}
	for _, p := range s.patterns {
		if len(s.remotes) > 0 {
			for _, remote := range s.remotes {
				refs = append(refs, "refs/remotes/"+remote+"/"+p)
			}
		} else {
			refs = append(refs, "refs/remotes/*/"+p)
		}
	}
	if s.searchTags {
		for _, p := range s.patterns {
			refs = append(refs, "refs/tags/"+p)
		}
	}
	return refs
}

// Find locates the previous upstream commit: the topologically most
// recent merge base between the target branch and the tips matching
// the search patterns. The result is cached.
func (s *Searcher) Find(ctx context.Context) (string, error) {
	if s.commit != "" {
		return s.commit, nil
	}
	log := s.repo.Log()
	log.Info("Searching for most recent merge base with upstream branches")

	refs, err := s.repo.ForEachRef(ctx, "%(refname:short)", s.refPatterns()...)
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", &NoCommonAncestorError{Branch: s.branch}
	}
	log.Infof("Upstream refs: %s", strings.Join(refs, ", "))

	// Tips of each matching ref. Root commits cannot be import points
	// and are excluded up front.
	tips, err := s.repo.RevList(ctx, append([]string{"--min-parents=1", "--no-walk"}, refs...)...)
	if err != nil {
		return "", err
	}

	// Prune any tip reachable from another so merge-base, which is
	// comparatively expensive, runs as few times as possible. The
	// --not option applies to everything after it, so order matters.
	var pruneList []string
	for _, tip := range tips {
		lines, err := s.repo.RevList(ctx, "--parents", "--max-count=1", tip)
		if err != nil {
			return "", err
		}
		if len(lines) == 1 {
			fields := strings.Fields(lines[0])
			pruneList = append(pruneList, fields[1:]...)
		}
	}
	pruned := tips
	if len(pruneList) > 0 {
		args := append(append([]string(nil), tips...), "--not")
		args = append(args, pruneList...)
		pruned, err = s.repo.RevList(ctx, args...)
		if err != nil {
			return "", err
		}
	}

	// Unrelated branches picked up by the pattern expansion simply
	// have no merge base and are skipped.
	var bases []string
	for _, rev := range pruned {
		base, ok, err := s.repo.MergeBase(ctx, s.branch, rev)
		if err != nil {
			return "", err
		}
		if ok && !slices.Contains(bases, base) {
			bases = append(bases, base)
		}
	}
	if len(bases) == 0 {
		return "", &NoCommonAncestorError{Branch: s.branch}
	}

	// Order the candidates topologically so the most recent one wins
	// irrespective of commit dates.
	found, err := s.repo.RevList(ctx, append([]string{"--topo-order", "--max-count=1"}, bases...)...)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", &NoCommonAncestorError{Branch: s.branch}
	}
	s.commit = found[0]
	log.Debugf("Most recent merge-base commit is '%s'", s.commit)
	return s.commit, nil
}

// List returns the commits carried on the branch since the previous
// upstream commit, newest first.
//
// With an empty upstream it walks the ancestry path from the found
// commit to the branch tip, trimmed at the first occurrence of the
// found commit as a parent. This keeps commits that were merged more
// than once from appearing once per merge point.
//
// With an upstream, the previous import merge is located first so
// that the walk can exclude the histories it already imported, and
// commits equivalent by patch-id to something on the upstream side
// are suppressed with --cherry-pick --left-only.
func (s *Searcher) List(ctx context.Context, upstream string) ([]*gitrepo.Commit, error) {
	found, err := s.Find(ctx)
	if err != nil {
		return nil, err
	}
	if upstream == "" {
		commits, err := s.repo.LogCommits(ctx, "--topo-order", "--ancestry-path", found+".."+s.branch, "--")
		if err != nil {
			return nil, err
		}
		return Apply(ctx, commits, BeforeFirstParentCommitFilter{Stop: found})
	}

	prev, exclusions, err := s.previousImport(ctx, found)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		args := []string{"--topo-order", "--cherry-pick", "--left-only", s.branch + "..." + upstream, "^" + found}
		args = append(args, exclusions...)
		args = append(args, "--")
		return s.repo.LogCommits(ctx, args...)
	}

	// Two ordered walks keep the result deterministic across the
	// previous-import boundary: everything since the import first,
	// then the imported carry itself.
	args := []string{"--topo-order", "--cherry-pick", "--left-only", s.branch + "..." + upstream, "^" + prev.Hash, "^" + found}
	args = append(args, exclusions...)
	args = append(args, "--")
	since, err := s.repo.LogCommits(ctx, args...)
	if err != nil {
		return nil, err
	}
	args = []string{"--topo-order", prev.Hash, "^" + found, "^" + prev.Hash + "~1"}
	args = append(args, exclusions...)
	args = append(args, "--")
	imported, err := s.repo.LogCommits(ctx, args...)
	if err != nil {
		return nil, err
	}
	return append(since, imported...), nil
}

// previousImport scans the merges on the ancestry path between the
// found commit and the branch tip for the most recent import merge.
// It returns the exclusions accumulated from auxiliary-branch merges
// as ^rev arguments for subsequent walks.
func (s *Searcher) previousImport(ctx context.Context, found string) (*gitrepo.Commit, []string, error) {
	merges, err := s.repo.LogCommits(ctx, "--topo-order", "--ancestry-path", "--merges", found+".."+s.branch, "--")
	if err != nil {
		return nil, nil, err
	}
	var exclusions []string
	exclude := func(rev string) {
		arg := "^" + rev
		if !slices.Contains(exclusions, arg) {
			exclusions = append(exclusions, arg)
		}
	}
	var prev *gitrepo.Commit
	for i, m := range merges {
		bases := make(map[string]string, len(m.Parents))
		aux := false
		for _, p := range m.Parents {
			base, ok, err := s.repo.MergeBase(ctx, p, found)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				aux = true
				break
			}
			bases[p] = base
		}
		if aux {
			// A merge of an unrelated history: an auxiliary branch
			// union. Its parents contribute nothing to the carried
			// sequence and the merge is not an import.
			for _, pp := range m.Parents {
				exclude(pp)
			}
			continue
		}
		mTree, err := s.repo.TreeHash(ctx, m.Hash)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range m.Parents {
			pTree, err := s.repo.TreeHash(ctx, p)
			if err != nil {
				return nil, nil, err
			}
			if pTree != mTree {
				// This parent contributed changes; the merge tells
				// us nothing about imports.
				continue
			}
			if bases[p] == found && len(m.Parents) > 1 {
				// The merge replaced the tree with this parent's
				// while the mainline stayed on the found commit:
				// this is the previous import.
				if prev == nil {
					prev = m
					for _, pp := range m.Parents {
						if pp != p {
							exclude(pp)
						}
					}
				}
			} else if i == len(merges)-1 && bases[p] != found {
				// The oldest merge on the path replaced the tree
				// from a sibling of the old mainline: an import over
				// a previously tracked branch.
				if prev == nil {
					prev = m
					exclude(p)
				}
			}
		}
	}
	return prev, exclusions, nil
}
