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

package search

import (
	"context"
	"strings"

	"github.com/openstack-archive/git-upstream/internal/gitrepo"
)

// A Filter transforms a sequence of commits. Filters are composed in
// order by Apply; each stage receives the previous stage's output.
type Filter interface {
	Filter(ctx context.Context, commits []*gitrepo.Commit) ([]*gitrepo.Commit, error)
}

// Apply runs commits through each filter in order.
func Apply(ctx context.Context, commits []*gitrepo.Commit, filters ...Filter) ([]*gitrepo.Commit, error) {
	var err error
	for _, f := range filters {
		commits, err = f.Filter(ctx, commits)
		if err != nil {
			return nil, err
		}
	}
	return commits, nil
}

// NoMergeCommitFilter prunes all commits that have more than one
// parent.
type NoMergeCommitFilter struct{}

func (NoMergeCommitFilter) Filter(_ context.Context, commits []*gitrepo.Commit) ([]*gitrepo.Commit, error) {
	kept := make([]*gitrepo.Commit, 0, len(commits))
	for _, c := range commits {
		if !c.IsMerge() {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// ReverseCommitFilter emits the commits in reverse order. It should be
// the last ordering stage in a chain.
type ReverseCommitFilter struct{}

func (ReverseCommitFilter) Filter(_ context.Context, commits []*gitrepo.Commit) ([]*gitrepo.Commit, error) {
	reversed := make([]*gitrepo.Commit, len(commits))
	for i, c := range commits {
		reversed[len(commits)-1-i] = c
	}
	return reversed, nil
}

// BeforeFirstParentCommitFilter passes commits through until one of
// them lists the stop commit as a parent, then truncates the sequence.
// It keeps walks across repeated merges of the same commit from
// returning every historical occurrence.
type BeforeFirstParentCommitFilter struct {
	Stop string
}

func (f BeforeFirstParentCommitFilter) Filter(_ context.Context, commits []*gitrepo.Commit) ([]*gitrepo.Commit, error) {
	kept := make([]*gitrepo.Commit, 0, len(commits))
	for _, c := range commits {
		// Emit the commit before checking its parents so the commit
		// immediately after the stop point is retained.
		kept = append(kept, c)
		for _, p := range c.Parents {
			if p == f.Stop {
				return kept, nil
			}
		}
	}
	return kept, nil
}

// DroppedCommitFilter prunes all commits whose note carries a
// "Dropped:" header.
type DroppedCommitFilter struct {
	Repo *gitrepo.Repo
}

func (f DroppedCommitFilter) Filter(ctx context.Context, commits []*gitrepo.Commit) ([]*gitrepo.Commit, error) {
	kept := make([]*gitrepo.Commit, 0, len(commits))
	for _, c := range commits {
		note, ok, err := f.Repo.ReadNote(ctx, c.Hash, gitrepo.NotesRef)
		if err != nil {
			return nil, err
		}
		if ok && gitrepo.DroppedHeaderRE.MatchString(note) {
			f.Repo.Log().Debugf("Dropping commit '%s' as requested:\n%s", c, note)
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}

// SupersededCommitFilter prunes commits annotated with
// "Superseded-by:" change-ids once every listed change-id has landed
// within Limit..SearchRef.
type SupersededCommitFilter struct {
	Repo *gitrepo.Repo

	// SearchRef is the ref whose history is searched for the
	// superseding change-ids.
	SearchRef string

	// Limit bounds the search to commits not reachable from it.
	// Empty searches the full history of SearchRef.
	Limit string
}

func (f SupersededCommitFilter) Filter(ctx context.Context, commits []*gitrepo.Commit) ([]*gitrepo.Commit, error) {
	kept := make([]*gitrepo.Commit, 0, len(commits))
	for _, c := range commits {
		note, ok, err := f.Repo.ReadNote(ctx, c.Hash, gitrepo.NotesRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			kept = append(kept, c)
			continue
		}
		var ids []string
		for _, m := range gitrepo.SupersedeHeaderRE.FindAllStringSubmatch(note, -1) {
			ids = append(ids, m[1])
		}
		if len(ids) == 0 {
			kept = append(kept, c)
			continue
		}
		unresolved, err := f.unresolved(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(unresolved) > 0 {
			f.Repo.Log().Debugf(
				"Including commit '%s' because the following superseding change-ids have not been found: %s",
				c, strings.Join(unresolved, ", "))
			kept = append(kept, c)
			continue
		}
		f.Repo.Log().Debugf("Filtering out commit '%s' marked as superseded by note:\n%s", c, note)
	}
	return kept, nil
}

// unresolved returns the subset of ids that do not yet appear as a
// footer Change-Id within the search range.
func (f SupersededCommitFilter) unresolved(ctx context.Context, ids []string) ([]string, error) {
	pending := append([]string(nil), ids...)
	for _, id := range ids {
		found, err := ChangeIDInRange(ctx, f.Repo, id, revRange(f.Limit, f.SearchRef))
		if err != nil {
			return nil, err
		}
		if found {
			pending = remove(pending, id)
		}
	}
	return pending, nil
}

// DiscardDuplicateGerritChangeID prunes commits whose footer Change-Id
// already appears as a footer Change-Id within Limit..SearchRef.
// Change-ids are assigned by the Gerrit code review system and follow
// a change through its amendments, which makes them a cheap equality
// check for changes that were merged upstream in rewritten form.
type DiscardDuplicateGerritChangeID struct {
	Repo *gitrepo.Repo

	// SearchRef is the ref whose history is searched for duplicates.
	SearchRef string

	// Limit bounds the search to commits not reachable from it.
	Limit string
}

func (f DiscardDuplicateGerritChangeID) Filter(ctx context.Context, commits []*gitrepo.Commit) ([]*gitrepo.Commit, error) {
	kept := make([]*gitrepo.Commit, 0, len(commits))
	for _, c := range commits {
		id := gitrepo.FooterChangeID(c.Message)
		if id == "" {
			f.Repo.Log().Debugf("Including change missing 'Change-Id': %s", c)
			kept = append(kept, c)
			continue
		}
		found, err := ChangeIDInRange(ctx, f.Repo, id, revRange(f.Limit, f.SearchRef))
		if err != nil {
			return nil, err
		}
		if found {
			f.Repo.Log().Debugf("Skipping duplicate Change-Id %s in search ref: %s", id, c)
			continue
		}
		f.Repo.Log().Debugf("Including unmatched change %s: %s", id, c)
		kept = append(kept, c)
	}
	return kept, nil
}

// ChangeIDInRange reports whether id appears as a footer Change-Id of
// any commit in the given revision range. Matching commits are
// re-checked so that a change-id merely referenced in a message body
// does not count.
func ChangeIDInRange(ctx context.Context, repo *gitrepo.Repo, id, rng string) (bool, error) {
	matches, err := repo.LogCommits(ctx,
		"--extended-regexp", "--regexp-ignore-case",
		"--grep", `^Change-Id:[[:space:]]*`+id+`[[:space:]]*$`,
		rng, "--")
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if strings.EqualFold(gitrepo.FooterChangeID(m.Message), id) {
			return true, nil
		}
	}
	return false, nil
}

func revRange(limit, searchRef string) string {
	if limit == "" {
		return searchRef
	}
	return limit + ".." + searchRef
}

func remove(list []string, s string) []string {
	kept := list[:0]
	for _, v := range list {
		if !strings.EqualFold(v, s) {
			kept = append(kept, v)
		}
	}
	return kept
}
