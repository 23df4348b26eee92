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

//go:build unix

package importer

import (
	"context"
	"os"

	"golang.org/x/sys/unix"
)

// execGit replaces the current process image with git so that it owns
// the terminal for the duration of the rebase. It only returns on
// failure to exec.
func (e *RebaseEditor) execGit(ctx context.Context, args, env []string) error {
	if dir := e.repo.Dir(); dir != "" {
		if err := os.Chdir(dir); err != nil {
			return err
		}
	}
	argv := append([]string{e.repo.GitExe()}, args...)
	err := unix.Exec(e.repo.GitExe(), argv, env)
	e.Cleanup(ctx)
	return err
}
