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

package main

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openstack-archive/git-upstream/internal/filesystem"
	"github.com/openstack-archive/git-upstream/internal/gittest"
)

func basicCarryGraph() []gittest.Node {
	return []gittest.Node{
		{Name: "A"},
		{Name: "B", Parents: []string{"A"}},
		{Name: "C", Parents: []string{"B"}},
		{Name: "D", Parents: []string{"C"}},
		{Name: "E", Parents: []string{"B"}},
		{Name: "F", Parents: []string{"E"}},
	}
}

func basicCarryBranches() map[string]string {
	return map[string]string{
		"master":          "D",
		"upstream/master": "F",
	}
}

func TestImportBasicCarry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	err := env.repo.Root.Apply(filesystem.Write("scratch.txt", "untracked\n"))
	if err != nil {
		t.Fatal(err)
	}
	prevTip := env.revParse(ctx, "master")

	out, err := env.gitUpstream(ctx, "import", "upstream/master")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}

	// The target branch tip is a merge of the previous tip and the
	// replayed import, and its tree is the import's tree.
	head, err := env.repo.Repo.Commit(ctx, "master")
	if err != nil {
		t.Fatal(err)
	}
	if len(head.Parents) != 2 {
		t.Fatalf("master tip has %d parents; want 2\n%s", len(head.Parents), out)
	}
	if head.Parents[0] != prevTip {
		t.Errorf("first parent = %s; want previous tip %s", head.Parents[0], prevTip)
	}
	importTip := head.Parents[1]
	headTree := env.revParse(ctx, "master^{tree}")
	importTree := env.revParse(ctx, importTip+"^{tree}")
	if headTree != importTree {
		t.Errorf("tree(master) = %s; want tree(import) = %s", headTree, importTree)
	}

	// The replay carries exactly C and D onto the new upstream tip.
	replayed := env.subjects(ctx, importTip, "^"+env.repo.Commits["F"])
	want := []string{"[D] change D", "[C] change C"}
	if diff := cmp.Diff(want, replayed); diff != "" {
		t.Errorf("replayed commits (-want +got):\n%s", diff)
	}

	// Replays are copies, not the original commits.
	if importTip == env.repo.Commits["D"] {
		t.Error("import tip is the original D; want a replayed commit")
	}

	// Clean working tree, untracked files left alone.
	status, err := env.repo.Repo.Output(ctx, "status", "--porcelain")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(status); got != "?? scratch.txt" {
		t.Errorf("status --porcelain = %q; want only the untracked file", got)
	}
}

func TestImportDryRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	before := env.revParse(ctx, "master")

	out, err := env.gitUpstream(ctx, "import", "--dry-run", "upstream/master")
	if err != nil {
		t.Fatalf("import --dry-run: %v\n%s", err, out)
	}
	for _, want := range []string{"[C] change C", "[D] change D"} {
		if !strings.Contains(out, want) {
			t.Errorf("dry-run output missing %q:\n%s", want, out)
		}
	}
	if got := env.revParse(ctx, "master"); got != before {
		t.Errorf("dry-run moved master from %s to %s", before, got)
	}
}

func TestImportNoMerge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	before := env.revParse(ctx, "master")

	out, err := env.gitUpstream(ctx, "import", "--no-merge", "upstream/master")
	if err != nil {
		t.Fatalf("import --no-merge: %v\n%s", err, out)
	}
	if got := env.revParse(ctx, "master"); got != before {
		t.Errorf("--no-merge moved master from %s to %s", before, got)
	}

	// The import branch still carries the replay for later merging.
	branches, err := env.repo.Repo.ForEachRef(ctx, "%(refname:short)", "refs/heads/import/*")
	if err != nil {
		t.Fatal(err)
	}
	var importBranch string
	for _, b := range branches {
		if !strings.HasSuffix(b, "-base") {
			importBranch = b
		}
	}
	if importBranch == "" {
		t.Fatalf("no import branch found in %v", branches)
	}
	replayed := env.subjects(ctx, importBranch, "^"+env.repo.Commits["F"])
	want := []string{"[D] change D", "[C] change C"}
	if diff := cmp.Diff(want, replayed); diff != "" {
		t.Errorf("replayed commits (-want +got):\n%s", diff)
	}
}

func TestImportFinishNoMergeConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	out, err := env.gitUpstream(ctx, "import", "--finish", "--no-merge")
	if code := exitCode(err); code != 2 {
		t.Errorf("--finish --no-merge exit = %d; want 2\n%s", code, out)
	}
}

func TestImportFinishRejectsTemplate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	out, err := env.gitUpstream(ctx, "import", "--finish")
	if code := exitCode(err); code != 2 {
		t.Errorf("--finish with unexpanded template exit = %d; want 2\n%s", code, out)
	}
}

func TestImportFinishOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Branch(ctx, "import/manual", "F"); err != nil {
		t.Fatal(err)
	}
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	prevTip := env.revParse(ctx, "master")

	out, err := env.gitUpstream(ctx, "import", "--finish", "--import-branch", "import/manual")
	if err != nil {
		t.Fatalf("import --finish: %v\n%s", err, out)
	}
	head, err := env.repo.Repo.Commit(ctx, "master")
	if err != nil {
		t.Fatal(err)
	}
	if len(head.Parents) != 2 || head.Parents[0] != prevTip || head.Parents[1] != env.repo.Commits["F"] {
		t.Errorf("merge parents = %v; want [%s %s]", head.Parents, prevTip, env.repo.Commits["F"])
	}
	if env.revParse(ctx, "master^{tree}") != env.revParse(ctx, "import/manual^{tree}") {
		t.Error("tree(master) does not match tree(import/manual) after --finish")
	}
}

func TestImportAlreadySynced(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, []gittest.Node{
		{Name: "A"},
		{Name: "B", Parents: []string{"A"}},
		{Name: "C", Parents: []string{"B"}},
		{Name: "D", Parents: []string{"C"}},
	}, map[string]string{
		"master":          "D",
		"upstream/master": "B",
	})
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	before := env.revParse(ctx, "master")

	out, err := env.gitUpstream(ctx, "import", "upstream/master")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Nothing to be imported") {
		t.Errorf("output missing already-synced notice:\n%s", out)
	}
	if got := env.revParse(ctx, "master"); got != before {
		t.Errorf("already-synced import moved master from %s to %s", before, got)
	}
}

func TestImportEverythingUpstreamed(t *testing.T) {
	const changeID = "I5555555555555555555555555555555555555555"
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, []gittest.Node{
		{Name: "A"},
		{Name: "B", Parents: []string{"A"}, Message: "[B] carried change\n\nChange-Id: " + changeID},
		{Name: "U", Parents: []string{"A"}, Message: "[U] upstreamed rendition\n\nChange-Id: " + changeID},
	}, map[string]string{
		"master":          "B",
		"upstream/master": "U",
	})
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	prevTip := env.revParse(ctx, "master")

	out, err := env.gitUpstream(ctx, "import", "upstream/master")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	head, err := env.repo.Repo.Commit(ctx, "master")
	if err != nil {
		t.Fatal(err)
	}
	if len(head.Parents) != 2 || head.Parents[0] != prevTip || head.Parents[1] != env.repo.Commits["U"] {
		t.Errorf("merge parents = %v; want [%s %s]\n%s", head.Parents, prevTip, env.repo.Commits["U"], out)
	}
	if env.revParse(ctx, "master^{tree}") != env.revParse(ctx, env.repo.Commits["U"]+"^{tree}") {
		t.Error("tree(master) does not match the upstream tree")
	}
}

func TestImportRepeatIsAlreadySynced(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}
	out, err := env.gitUpstream(ctx, "import", "upstream/master")
	if err != nil {
		t.Fatalf("first import: %v\n%s", err, out)
	}

	// Same upstream tip: a repeat run stops early as already synced.
	out, err = env.gitUpstream(ctx, "import", "upstream/master")
	if err != nil {
		t.Fatalf("repeat import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Nothing to be imported") {
		t.Errorf("repeat import did not detect sync:\n%s", out)
	}
}
