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
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/openstack-archive/git-upstream/internal/gittest"
	"github.com/openstack-archive/git-upstream/internal/importer"
)

// TestMain lets the test binary double as the git-upstream executable:
// the end-to-end tests re-invoke it as a subprocess, which also makes
// the rebase exec and sequence-editor command lines point somewhere
// real.
func TestMain(m *testing.M) {
	if os.Getenv("GIT_UPSTREAM_TEST_SUBPROCESS") == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type testEnv struct {
	tb   testing.TB
	repo *gittest.Repo
	exe  string
}

func newTestEnv(ctx context.Context, tb testing.TB) *testEnv {
	tb.Helper()
	repo, err := gittest.NewRepo(ctx, tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	exe, err := os.Executable()
	if err != nil {
		tb.Fatal(err)
	}
	return &testEnv{tb: tb, repo: repo, exe: exe}
}

func (env *testEnv) build(ctx context.Context, graph []gittest.Node, branches map[string]string) {
	env.tb.Helper()
	if err := env.repo.Build(ctx, graph); err != nil {
		env.tb.Fatal(err)
	}
	for name, node := range branches {
		if err := env.repo.Branch(ctx, name, node); err != nil {
			env.tb.Fatal(err)
		}
	}
}

// gitUpstream runs the tool as a subprocess in the fixture repository
// with the rebase editor in its deterministic test mode.
func (env *testEnv) gitUpstream(ctx context.Context, args ...string) (string, error) {
	env.tb.Helper()
	c := exec.CommandContext(ctx, env.exe, args...)
	c.Dir = env.repo.Root.String()
	c.Env = append(append([]string(nil), env.repo.Repo.Env()...),
		"GIT_UPSTREAM_TEST_SUBPROCESS=1",
		importer.RebaseEditorEnv+"=1",
	)
	out, err := c.CombinedOutput()
	return string(out), err
}

// exitCode digs the subprocess exit status out of an error from
// gitUpstream, or 0.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// subjects returns the subject lines of rng, newest first.
func (env *testEnv) subjects(ctx context.Context, rng ...string) []string {
	env.tb.Helper()
	args := append([]string{"log", "--pretty=tformat:%s"}, rng...)
	out, err := env.repo.Repo.Output(ctx, args...)
	if err != nil {
		env.tb.Fatal(err)
	}
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func (env *testEnv) revParse(ctx context.Context, rev string) string {
	env.tb.Helper()
	hash, err := env.repo.Repo.RevParse(ctx, rev)
	if err != nil {
		env.tb.Fatal(err)
	}
	return hash
}

func TestHelp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, []gittest.Node{{Name: "A"}}, nil)

	out, err := env.gitUpstream(ctx, "help")
	if err != nil {
		t.Fatalf("help: %v\n%s", err, out)
	}
	for _, want := range []string{"usage:", "import", "drop", "supersede", "carrying"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q:\n%s", want, out)
		}
	}

	out, err = env.gitUpstream(ctx, "help", "import")
	if err != nil {
		t.Fatalf("help import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "git-upstream import") {
		t.Errorf("help import output missing synopsis:\n%s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, []gittest.Node{{Name: "A"}}, nil)

	out, err := env.gitUpstream(ctx, "frobnicate")
	if code := exitCode(err); code != 2 {
		t.Errorf("unknown command exit = %d; want 2\n%s", code, out)
	}
}

func TestQuietVerboseConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, []gittest.Node{{Name: "A"}}, nil)

	out, err := env.gitUpstream(ctx, "-q", "-v", "-v", "carrying")
	if code := exitCode(err); code != 2 {
		t.Errorf("-q with -v exit = %d; want 2\n%s", code, out)
	}
}
