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

package search_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"github.com/openstack-archive/git-upstream/internal/gittest"
	"github.com/openstack-archive/git-upstream/internal/search"
)

func TestNoMergeCommitFilter(t *testing.T) {
	commits := []*gitrepo.Commit{
		{Hash: "a", Parents: []string{"p"}},
		{Hash: "m", Parents: []string{"p", "q"}},
		{Hash: "b"},
	}
	got, err := search.NoMergeCommitFilter{}.Filter(context.Background(), commits)
	if err != nil {
		t.Fatal(err)
	}
	want := []*gitrepo.Commit{commits[0], commits[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filtered (-want +got):\n%s", diff)
	}
}

func TestReverseCommitFilter(t *testing.T) {
	commits := []*gitrepo.Commit{{Hash: "c"}, {Hash: "b"}, {Hash: "a"}}
	got, err := search.ReverseCommitFilter{}.Filter(context.Background(), commits)
	if err != nil {
		t.Fatal(err)
	}
	want := []*gitrepo.Commit{{Hash: "a"}, {Hash: "b"}, {Hash: "c"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reversed (-want +got):\n%s", diff)
	}
}

func TestBeforeFirstParentCommitFilter(t *testing.T) {
	commits := []*gitrepo.Commit{
		{Hash: "d", Parents: []string{"c"}},
		{Hash: "c", Parents: []string{"stop"}},
		{Hash: "b", Parents: []string{"a"}},
	}
	got, err := search.BeforeFirstParentCommitFilter{Stop: "stop"}.Filter(context.Background(), commits)
	if err != nil {
		t.Fatal(err)
	}
	want := []*gitrepo.Commit{commits[0], commits[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("truncated (-want +got):\n%s", diff)
	}
}

func TestDroppedCommitFilter(t *testing.T) {
	ctx := context.Background()
	env := buildRepo(ctx, t, []gittest.Node{
		{Name: "A"},
		{Name: "B", Parents: []string{"A"}},
		{Name: "C", Parents: []string{"B"}},
	}, nil)
	repo := env.Repo

	err := repo.AppendNote(ctx, env.Commits["B"], "Dropped: A U Thor <author@example.com>\n", gitrepo.NotesRef)
	if err != nil {
		t.Fatal(err)
	}
	// An unrelated note must not drop the commit.
	err = repo.AppendNote(ctx, env.Commits["C"], "reviewed, keep carrying\n", gitrepo.NotesRef)
	if err != nil {
		t.Fatal(err)
	}

	commits := commitsFor(ctx, t, env, "C", "B", "A")
	got, err := search.DroppedCommitFilter{Repo: repo}.Filter(ctx, commits)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"C", "A"}, nodeNames(env, got)); diff != "" {
		t.Errorf("filtered (-want +got):\n%s", diff)
	}
}

func TestSupersededCommitFilter(t *testing.T) {
	const (
		landedID   = "I0000000000000000000000000000000000000001"
		landed2ID  = "I0000000000000000000000000000000000000002"
		missingID  = "I00000000000000000000000000000000000000ff"
		bodyOnlyID = "I00000000000000000000000000000000000000aa"
	)
	ctx := context.Background()
	env := buildRepo(ctx, t, []gittest.Node{
		{Name: "A"},
		{Name: "B", Parents: []string{"A"}},
		{Name: "C", Parents: []string{"B"}},
		{Name: "D", Parents: []string{"C"}},
		{Name: "UA", Parents: []string{"A"}, Message: "[UA] landed change\n\nChange-Id: " + landedID},
		{Name: "UB", Parents: []string{"UA"}, Message: "[UB] second landed change\n\nChange-Id: " + landed2ID},
		{Name: "UC", Parents: []string{"UB"}, Message: "[UC] mentions a change\n\nChange-Id: " + bodyOnlyID + "\n\nnot a footer"},
	}, map[string]string{
		"upstream/master": "UC",
	})
	repo := env.Repo

	// B: all superseding change-ids landed upstream -> dropped.
	err := repo.AppendNote(ctx, env.Commits["B"],
		"Superseded-by: "+landedID+"\nSuperseded-by: "+landed2ID+"\n", gitrepo.NotesRef)
	if err != nil {
		t.Fatal(err)
	}
	// C: one change-id still missing -> kept.
	err = repo.AppendNote(ctx, env.Commits["C"],
		"Superseded-by: "+landedID+"\nSuperseded-by: "+missingID+"\n", gitrepo.NotesRef)
	if err != nil {
		t.Fatal(err)
	}
	// D: the id only ever appears in a message body, not a footer ->
	// kept.
	err = repo.AppendNote(ctx, env.Commits["D"],
		"Superseded-by: "+bodyOnlyID+"\n", gitrepo.NotesRef)
	if err != nil {
		t.Fatal(err)
	}

	commits := commitsFor(ctx, t, env, "D", "C", "B", "A")
	f := search.SupersededCommitFilter{Repo: repo, SearchRef: "upstream/master", Limit: env.Commits["A"]}
	got, err := f.Filter(ctx, commits)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"D", "C", "A"}, nodeNames(env, got)); diff != "" {
		t.Errorf("filtered (-want +got):\n%s", diff)
	}
}

func TestDiscardDuplicateGerritChangeID(t *testing.T) {
	const (
		dupID    = "I1111111111111111111111111111111111111111"
		uniqueID = "I2222222222222222222222222222222222222222"
	)
	ctx := context.Background()
	env := buildRepo(ctx, t, []gittest.Node{
		{Name: "A"},
		{Name: "B", Parents: []string{"A"}, Message: "[B] carried change\n\nChange-Id: " + dupID},
		{Name: "C", Parents: []string{"B"}, Message: "[C] unique change\n\nChange-Id: " + uniqueID},
		{Name: "D", Parents: []string{"C"}},
		{Name: "U", Parents: []string{"A"}, Message: "[U] upstreamed version\n\nChange-Id: " + dupID},
	}, map[string]string{
		"upstream/master": "U",
	})

	commits := commitsFor(ctx, t, env, "D", "C", "B")
	f := search.DiscardDuplicateGerritChangeID{Repo: env.Repo, SearchRef: "upstream/master", Limit: env.Commits["A"]}
	got, err := f.Filter(ctx, commits)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"D", "C"}, nodeNames(env, got)); diff != "" {
		t.Errorf("filtered (-want +got):\n%s", diff)
	}
}

// commitsFor loads the named fixture nodes as Commit records in the
// given order.
func commitsFor(ctx context.Context, t *testing.T, env *gittest.Repo, nodes ...string) []*gitrepo.Commit {
	t.Helper()
	commits := make([]*gitrepo.Commit, 0, len(nodes))
	for _, n := range nodes {
		c, err := env.Repo.Commit(ctx, env.Commits[n])
		if err != nil {
			t.Fatal(err)
		}
		commits = append(commits, c)
	}
	return commits
}
