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
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
)

func TestDrop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}

	out, err := env.gitUpstream(ctx, "drop", "--author", "A U Thor <author@example.com>", env.repo.Commits["C"])
	if err != nil {
		t.Fatalf("drop: %v\n%s", err, out)
	}
	note, ok, err := env.repo.Repo.ReadNote(ctx, env.repo.Commits["C"], gitrepo.NotesRef)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !strings.Contains(note, "Dropped: A U Thor <author@example.com>") {
		t.Errorf("note after drop = (%q, %t); want Dropped header", note, ok)
	}

	// Dropping twice warns instead of stacking headers.
	out, err = env.gitUpstream(ctx, "drop", env.repo.Commits["C"])
	if err != nil {
		t.Fatalf("second drop: %v\n%s", err, out)
	}
	note, _, err = env.repo.Repo.ReadNote(ctx, env.repo.Commits["C"], gitrepo.NotesRef)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(note, "Dropped:"); got != 1 {
		t.Errorf("note has %d Dropped headers after a repeat drop; want 1\n%s", got, note)
	}
}

func TestDropDefaultsAuthorFromConfig(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}

	out, err := env.gitUpstream(ctx, "drop", env.repo.Commits["C"])
	if err != nil {
		t.Fatalf("drop: %v\n%s", err, out)
	}
	note, _, err := env.repo.Repo.ReadNote(ctx, env.repo.Commits["C"], gitrepo.NotesRef)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(note, "Dropped: git-upstream test <test@example.com>") {
		t.Errorf("note = %q; want committer identity from config", note)
	}
}

func TestDropUnknownCommit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}

	out, err := env.gitUpstream(ctx, "drop", "0123456789012345678901234567890123456789")
	if code := exitCode(err); code != 1 {
		t.Errorf("drop of unknown commit exit = %d; want 1\n%s", code, out)
	}
}

func TestDropThenImport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}

	out, err := env.gitUpstream(ctx, "drop", env.repo.Commits["C"])
	if err != nil {
		t.Fatalf("drop: %v\n%s", err, out)
	}
	out, err = env.gitUpstream(ctx, "import", "upstream/master")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}

	head, err := env.repo.Repo.Commit(ctx, "master")
	if err != nil {
		t.Fatal(err)
	}
	replayed := env.subjects(ctx, head.Parents[1], "^"+env.repo.Commits["F"])
	if diff := cmp.Diff([]string{"[D] change D"}, replayed); diff != "" {
		t.Errorf("replayed commits after drop (-want +got):\n%s", diff)
	}
}
