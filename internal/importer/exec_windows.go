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

//go:build windows

package importer

import (
	"context"
	"os"
	"os/exec"

	"github.com/openstack-archive/git-upstream/internal/sigterm"
)

// execGit approximates process replacement on Windows by running git
// attached to the current terminal and exiting with its status.
func (e *RebaseEditor) execGit(ctx context.Context, args, env []string) error {
	c := exec.Command(e.repo.GitExe(), args...)
	c.Dir = e.repo.Dir()
	c.Env = env
	c.Stdin = e.stdin
	c.Stdout = e.stdout
	c.Stderr = e.stderr
	err := sigterm.Run(ctx, c)
	e.Cleanup(ctx)
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			os.Exit(ee.ExitCode())
		}
		return err
	}
	os.Exit(0)
	return nil
}
