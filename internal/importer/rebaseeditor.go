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

package importer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/openstack-archive/git-upstream/internal/escape"
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"github.com/openstack-archive/git-upstream/internal/sigterm"
)

// RebaseEditorEnv selects the rebase editor test modes: "1" captures
// output and omits the finish exec line, "debug" runs git attached to
// the terminal instead of replacing the process.
const RebaseEditorEnv = "TEST_GIT_UPSTREAM_REBASE_EDITOR"

// EditorBridgeEnv carries the user's preferred editor through to the
// helper when GIT_EDITOR had to be overridden on old git.
const EditorBridgeEnv = "GIT_UPSTREAM_GIT_EDITOR"

// todoFileName is named so editors applying filename-based syntax
// highlighting treat it like a rebase instruction sheet.
const todoFileName = "git-upstream/git-rebase-todo"

// RebaseEditor drives git rebase --interactive with a prepared
// instruction sheet, injected through an editor override in the child
// environment.
type RebaseEditor struct {
	repo *gitrepo.Repo

	// finishCmdline, when non-nil, is appended to the sheet as an
	// exec instruction so git runs the merge step once the replay
	// succeeds.
	finishCmdline []string

	// interactive spawns the user's editor on the sheet before the
	// rebase consumes it.
	interactive bool

	// helperCmdline invokes the sequence-editor helper; typically the
	// running executable with its hidden rebase-editor subcommand.
	helperCmdline []string

	stdin  *os.File
	stdout *os.File
	stderr *os.File
}

// NewRebaseEditor returns an editor runner for the given repository.
func NewRebaseEditor(repo *gitrepo.Repo, finishCmdline []string, interactive bool, helperCmdline []string) *RebaseEditor {
	return &RebaseEditor{
		repo:          repo,
		finishCmdline: finishCmdline,
		interactive:   interactive,
		helperCmdline: helperCmdline,
		stdin:         os.Stdin,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
	}
}

// TodoPath returns the location of the prepared instruction sheet.
func (e *RebaseEditor) TodoPath(ctx context.Context) (string, error) {
	gitDir, err := e.repo.GitDir(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(gitDir, filepath.FromSlash(todoFileName)), nil
}

// writeTodo writes one pick line per commit plus the finish exec line
// and an explanatory epilogue, and returns the file path.
func (e *RebaseEditor) writeTodo(ctx context.Context, commits []*gitrepo.Commit, onto string) (string, error) {
	path, err := e.TodoPath(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return "", err
	}
	os.Remove(path)

	buf := new(bytes.Buffer)
	var root, tip string
	for _, c := range commits {
		if root == "" {
			root = c.Parents[0]
		}
		tip = c.Hash
		short, err := e.repo.ShortHash(ctx, c.Hash)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(buf, "pick %s %s\n", short, c.Subject())
	}
	testMode := os.Getenv(RebaseEditorEnv) == "1"
	switch {
	case !testMode && e.finishCmdline != nil:
		fmt.Fprintf(buf, "exec %s\n", escape.ShellCommand(e.finishCmdline))
	case root == "":
		// No commits and no exec line leaves git nothing to do;
		// a noop keeps it from treating the sheet as an abort.
		buf.WriteString("noop\n")
	}
	fmt.Fprintf(buf, e.todoEpilogue(),
		e.shorten(ctx, root)+".."+e.shorten(ctx, tip),
		e.shorten(ctx, firstNonEmpty(onto, root)))

	if err := os.WriteFile(path, buf.Bytes(), 0o666); err != nil {
		return "", err
	}
	return path, nil
}

func (e *RebaseEditor) todoEpilogue() string {
	if e.repo.ModernTodoEpilogue() {
		return `
# Rebase %s onto %s
#
# All commands from normal rebase instructions files are supported
#
# If you remove a line, that commit will be dropped.
# However, if you remove everything, the rebase will be aborted.
#
`
	}
	return `
# Rebase %s onto %s
#
# All commands from normal rebase instructions files are supported
#
# If you remove a line, that commit will be dropped.
# Removing all commits will abort the rebase.
#
`
}

func (e *RebaseEditor) shorten(ctx context.Context, rev string) string {
	if rev == "" {
		return "<none>"
	}
	short, err := e.repo.ShortHash(ctx, rev)
	if err != nil {
		return rev
	}
	return short
}

// Cleanup removes the instruction sheet.
func (e *RebaseEditor) Cleanup(ctx context.Context) {
	if path, err := e.TodoPath(ctx); err == nil {
		os.Remove(path)
	}
}

// userSequenceEditor returns the editor the user would normally get
// for instruction sheets.
func (e *RebaseEditor) userSequenceEditor(ctx context.Context) string {
	if ed := envValue(e.baseEnv(), "GIT_SEQUENCE_EDITOR"); ed != "" {
		return ed
	}
	return e.repo.Config(ctx, "sequence.editor")
}

// userEditor returns the editor the user would normally get for
// everything else.
func (e *RebaseEditor) userEditor(ctx context.Context) string {
	if ed := envValue(e.baseEnv(), "GIT_EDITOR"); ed != "" {
		return ed
	}
	return e.repo.Var(ctx, "GIT_EDITOR")
}

func (e *RebaseEditor) baseEnv() []string {
	if env := e.repo.Env(); env != nil {
		return env
	}
	return os.Environ()
}

// childEnv builds the rebase subprocess environment. The parent
// process environment is never mutated; on git without sequence
// editor support the user's editor is preserved under EditorBridgeEnv
// so the helper can chain to it for commit messages.
func (e *RebaseEditor) childEnv(ctx context.Context, todoPath string) []string {
	helper := append([]string(nil), e.helperCmdline...)
	helper = append(helper, todoPath)
	helperCmd := escape.ShellCommand(helper)

	env := append([]string(nil), e.baseEnv()...)
	if e.repo.SupportsSequenceEditor() {
		env = setEnv(env, "GIT_SEQUENCE_EDITOR", helperCmd)
	} else {
		if user := e.userEditor(ctx); user != "" {
			env = setEnv(env, EditorBridgeEnv, user)
		}
		env = setEnv(env, "GIT_EDITOR", helperCmd)
	}
	return env
}

// Run replays commits onto the given revision by driving git rebase
// --interactive from root to branch. It reports cancelled=true when
// the user emptied the instruction sheet.
func (e *RebaseEditor) Run(ctx context.Context, commits []*gitrepo.Commit, root, branch, onto string) (cancelled bool, err error) {
	todoPath, err := e.writeTodo(ctx, commits, onto)
	if err != nil {
		return false, err
	}

	if e.interactive {
		// Spawn the editor directly on the prepared sheet. I/O is
		// left attached: most editors expect a real terminal.
		userEditor := e.userSequenceEditor(ctx)
		if userEditor == "" {
			userEditor = e.userEditor(ctx)
		}
		if userEditor != "" {
			c := exec.Command("/bin/sh", "-c", userEditor+" "+escape.Shell(todoPath))
			c.Dir = e.repo.Dir()
			c.Env = e.baseEnv()
			c.Stdin = e.stdin
			c.Stdout = e.stdout
			c.Stderr = e.stderr
			if err := sigterm.Run(ctx, c); err != nil {
				e.Cleanup(ctx)
				return false, &RebaseError{Msg: "editor returned non-zero exit code"}
			}
		}
	}

	env := e.childEnv(ctx, todoPath)
	args := []string{"rebase", "--interactive", "--onto", onto, root, branch}

	switch {
	case os.Getenv(RebaseEditorEnv) == "debug":
		// Deliberately attached for debugging: output cannot be
		// captured, but the final state can be inspected.
		defer e.Cleanup(ctx)
		return e.runAttached(ctx, args, env)
	case os.Getenv(RebaseEditorEnv) == "1":
		// Test mode stays in-process so the result can be asserted.
		defer e.Cleanup(ctx)
		return e.runCaptured(ctx, args, env)
	case e.interactive:
		// git expects to own the terminal, so the process image is
		// replaced outright. Branch switching afterwards is up to the
		// exec line in the sheet.
		return false, e.execGit(ctx, args, env)
	default:
		defer e.Cleanup(ctx)
		return e.runCaptured(ctx, args, env)
	}
}

func (e *RebaseEditor) runAttached(ctx context.Context, args, env []string) (bool, error) {
	c := exec.Command(e.repo.GitExe(), args...)
	c.Dir = e.repo.Dir()
	c.Env = env
	c.Stdin = e.stdin
	c.Stdout = e.stdout
	c.Stderr = e.stderr
	if err := sigterm.Run(ctx, c); err != nil {
		return false, &RebaseError{Msg: fmt.Sprintf("git rebase failed: %v", err)}
	}
	return false, nil
}

func (e *RebaseEditor) runCaptured(ctx context.Context, args, env []string) (bool, error) {
	c := exec.Command(e.repo.GitExe(), args...)
	c.Dir = e.repo.Dir()
	c.Env = env
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	c.Stdout = stdout
	c.Stderr = stderr
	if err := sigterm.Run(ctx, c); err != nil {
		if strings.HasPrefix(stderr.String(), "Nothing to do") {
			return true, nil
		}
		return false, &RebaseError{
			Msg:    "rebase failed, will need user intervention to resolve",
			Output: stdout.String() + stderr.String(),
		}
	}
	return false, nil
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

func envValue(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
