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
	"fmt"

	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// A Strategy pairs a searcher with the filter chain that reduces the
// raw carried sequence to the commits worth replaying.
type Strategy struct {
	name     string
	repo     *gitrepo.Repo
	upstream string
	searcher *Searcher

	raw    []*gitrepo.Commit
	rawSet bool
}

// DropStrategy is the production strategy: drop merges, annotated,
// superseded, and duplicate-change-id commits.
const DropStrategy = "drop"

var strategies = map[string]func(repo *gitrepo.Repo, branch, upstream string, searchRefs []string) *Strategy{
	DropStrategy: newDropStrategy,
}

// StrategyNames lists the registered strategies, sorted.
func StrategyNames() []string {
	names := maps.Keys(strategies)
	slices.Sort(names)
	return names
}

// NewStrategy builds the named strategy over the given branch and
// upstream. The upstream ref itself is always part of the searcher's
// pattern set so imports from a concrete ref find it without an extra
// --search-refs.
func NewStrategy(name string, repo *gitrepo.Repo, branch, upstream string, searchRefs []string) (*Strategy, error) {
	ctor := strategies[name]
	if ctor == nil {
		return nil, fmt.Errorf("no such strategy: %q (available: %v)", name, StrategyNames())
	}
	return ctor(repo, branch, upstream, searchRefs), nil
}

func newDropStrategy(repo *gitrepo.Repo, branch, upstream string, searchRefs []string) *Strategy {
	patterns := append([]string{upstream}, searchRefs...)
	return &Strategy{
		name:     DropStrategy,
		repo:     repo,
		upstream: upstream,
		searcher: NewSearcher(repo, branch, patterns, true),
	}
}

// Name returns the strategy's registered name.
func (s *Strategy) Name() string {
	return s.name
}

// Searcher returns the underlying searcher.
func (s *Strategy) Searcher() *Searcher {
	return s.searcher
}

// PreviousUpstream returns the commit the searcher located as the
// previous import point.
func (s *Strategy) PreviousUpstream(ctx context.Context) (string, error) {
	return s.searcher.Find(ctx)
}

// Commits returns the raw carried sequence, newest first. The list is
// materialized once and reused.
func (s *Strategy) Commits(ctx context.Context) ([]*gitrepo.Commit, error) {
	if !s.rawSet {
		raw, err := s.searcher.List(ctx, s.upstream)
		if err != nil {
			return nil, err
		}
		s.raw = raw
		s.rawSet = true
	}
	return s.raw, nil
}

// Filtered applies the strategy's filter chain to the raw sequence and
// returns the commits to replay, oldest first.
func (s *Strategy) Filtered(ctx context.Context) ([]*gitrepo.Commit, error) {
	raw, err := s.Commits(ctx)
	if err != nil {
		return nil, err
	}
	prev, err := s.PreviousUpstream(ctx)
	if err != nil {
		return nil, err
	}
	return Apply(ctx, raw,
		DiscardDuplicateGerritChangeID{Repo: s.repo, SearchRef: s.upstream, Limit: prev},
		NoMergeCommitFilter{},
		ReverseCommitFilter{},
		DroppedCommitFilter{Repo: s.repo},
		SupersededCommitFilter{Repo: s.repo, SearchRef: s.upstream, Limit: prev},
	)
}
