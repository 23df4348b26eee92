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
)

func TestCarrying(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}

	out, err := env.gitUpstream(ctx, "carrying", "upstream/master", "--", "--oneline")
	if err != nil {
		t.Fatalf("carrying: %v\n%s", err, out)
	}
	for _, want := range []string{"[C] change C", "[D] change D"} {
		if !strings.Contains(out, want) {
			t.Errorf("carrying output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "[B] change B") {
		t.Errorf("carrying output lists a common commit:\n%s", out)
	}
}

func TestCarryingDefaultsUpstream(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ctx, t)
	env.build(ctx, basicCarryGraph(), basicCarryBranches())
	if err := env.repo.Checkout(ctx, "master"); err != nil {
		t.Fatal(err)
	}

	out, err := env.gitUpstream(ctx, "carrying", "--", "--oneline")
	if err != nil {
		t.Fatalf("carrying: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[D] change D") {
		t.Errorf("carrying output missing carried commit:\n%s", out)
	}
}
