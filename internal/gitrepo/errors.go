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

package gitrepo

import (
	"errors"
	"fmt"
	"os/exec"
)

// RepoError indicates that the repository as a whole cannot be used
// for the requested operation (bare repository, detached HEAD where a
// branch is required, unusable git installation).
type RepoError struct {
	Msg string
}

func (e *RepoError) Error() string {
	return e.Msg
}

// RefError indicates that a ref or commitish did not resolve to a
// usable commit.
type RefError struct {
	Ref string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("specified commit(ish) does not exist: %q", e.Ref)
}

// NoteExistsError indicates an attempt to add a note to a commit that
// is already annotated under the same ref.
type NoteExistsError struct {
	Commit string
	Ref    string
}

func (e *NoteExistsError) Error() string {
	return fmt.Sprintf("commit %s already has a note under %s", e.Commit, e.Ref)
}

// ValidationError indicates malformed user input, such as an invalid
// change-id.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// exitCode extracts the subprocess exit code from an error returned by
// a git invocation. It returns -1 if err does not carry one.
func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
