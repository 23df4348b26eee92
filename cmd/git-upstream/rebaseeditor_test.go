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
	"os"
	"path/filepath"
	"testing"
)

func TestReplaceInstructions(t *testing.T) {
	dir := t.TempDir()
	prepared := filepath.Join(dir, "new-list")
	target := filepath.Join(dir, "git-rebase-todo")

	preparedContent := "pick 1111111 [C] change C\n" +
		"pick 2222222 [D] change D\n" +
		"exec git-upstream import --finish\n" +
		"\n" +
		"# Rebase 0000000..2222222 onto 3333333\n"
	err := os.WriteFile(prepared, []byte(preparedContent), 0o666)
	if err != nil {
		t.Fatal(err)
	}
	generated := "pick aaaaaaa something upstream generated\n" +
		"pick bbbbbbb another generated entry\n" +
		"\n" +
		"# Rebase aaaaaaa..bbbbbbb onto ccccccc\n" +
		"# Commands:\n" +
		"#  p, pick = use commit\n"
	if err := os.WriteFile(target, []byte(generated), 0o666); err != nil {
		t.Fatal(err)
	}

	if err := replaceInstructions(target, prepared); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	want := "pick 1111111 [C] change C\n" +
		"pick 2222222 [D] change D\n" +
		"exec git-upstream import --finish\n" +
		"\n" +
		"# Rebase aaaaaaa..bbbbbbb onto ccccccc\n" +
		"# Commands:\n" +
		"#  p, pick = use commit\n"
	if string(got) != want {
		t.Errorf("rewritten sheet = %q; want %q", got, want)
	}
}

func TestReplaceInstructionsEmptyList(t *testing.T) {
	dir := t.TempDir()
	prepared := filepath.Join(dir, "new-list")
	target := filepath.Join(dir, "git-rebase-todo")

	// An all-comment prepared list leaves no instructions, which git
	// then treats as a request to abort.
	err := os.WriteFile(prepared, []byte("# nothing\n\n# epilogue\n"), 0o666)
	if err != nil {
		t.Fatal(err)
	}
	generated := "pick aaaaaaa entry\n\n# comments\n"
	if err := os.WriteFile(target, []byte(generated), 0o666); err != nil {
		t.Fatal(err)
	}
	if err := replaceInstructions(target, prepared); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	want := "\n# comments\n"
	if string(got) != want {
		t.Errorf("rewritten sheet = %q; want %q", got, want)
	}
}
