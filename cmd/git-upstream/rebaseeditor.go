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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openstack-archive/git-upstream/internal/flag"
	"github.com/openstack-archive/git-upstream/internal/importer"
)

const rebaseEditorSynopsis = "replace rebase instructions with a prepared list (internal)"

// cmdRebaseEditor is the helper git invokes as its sequence editor
// during a driven rebase. git passes the file to edit as the last
// argument; the first argument is the prepared instruction list.
//
// When the file is a commit message rather than the instruction
// sheet (possible on git without sequence editor support, when a
// reword runs before any edit), the helper chains to the user's real
// editor, bridged through the environment by the parent process.
func cmdRebaseEditor(ctx context.Context, cc *cmdContext, args []string) error {
	f := flag.NewFlagSet(true, "git-upstream rebase-editor [-i] <new-list> <todo-list>", rebaseEditorSynopsis+`

	Replaces the instruction entries of the rebase instructions file
	with the list read from the given input file. Avoids stdin for
	passing the instructions as many editors have problems if exec'd
	with stdin attached to a pipe.`)
	interactive := f.Bool("interactive", false, "let the user edit the list of commits before it is applied")
	f.Alias("interactive", "i")
	if err := f.Parse(args); flag.IsHelp(err) {
		f.Help(cc.stdout())
		return nil
	} else if err != nil {
		return usagef("%v", err)
	}
	if f.NArg() < 2 {
		return usagef("rebase-editor takes the prepared list and the file to edit")
	}
	prepared := f.Arg(0)
	target := f.Arg(f.NArg() - 1)
	extraArgs := f.Args()[1 : f.NArg()-1]

	if filepath.Base(target) != "COMMIT_EDITMSG" {
		if err := replaceInstructions(target, prepared); err != nil {
			return err
		}
		if !*interactive {
			return nil
		}
	}
	return chainUserEditor(cc, extraArgs, target)
}

// replaceInstructions rewrites the instruction lines of the rebase
// sheet at target with the non-comment lines of the prepared file,
// leaving the sheet's trailing comment block in place.
func replaceInstructions(target, prepared string) error {
	replacement, err := os.ReadFile(prepared)
	if err != nil {
		return err
	}
	original, err := os.ReadFile(target)
	if err != nil {
		return err
	}

	out := new(strings.Builder)
	echoed := false
	for _, line := range strings.Split(string(original), "\n") {
		stripped := strings.TrimSpace(line)
		// The first blank line marks the end of the generated
		// instructions; everything before it is discarded in favor of
		// the prepared list.
		if stripped == "" {
			if !echoed {
				for _, r := range strings.Split(string(replacement), "\n") {
					r = strings.TrimSpace(r)
					if r == "" {
						break
					}
					if !strings.HasPrefix(r, "#") {
						fmt.Fprintln(out, r)
					}
				}
				fmt.Fprintln(out)
				echoed = true
			}
			continue
		}
		if echoed {
			fmt.Fprintln(out, stripped)
		}
	}
	return os.WriteFile(target, []byte(out.String()), 0o666)
}

// chainUserEditor hands the file over to the editor the parent
// process preserved in the environment.
func chainUserEditor(cc *cmdContext, extraArgs []string, target string) error {
	var editor string
	for _, name := range []string{"GIT_UPSTREAM_GIT_SEQUENCE_EDITOR", importer.EditorBridgeEnv} {
		if v := os.Getenv(name); v != "" {
			os.Unsetenv(name)
			key := strings.TrimPrefix(name, "GIT_UPSTREAM_")
			os.Setenv(key, v)
			editor = v
			break
		}
	}
	if editor == "" {
		fmt.Fprintln(cc.stderr(), "rebase-editor: no git EDITOR variables defined in environment to call as required")
		os.Exit(2)
	}
	argv := append([]string{editor}, extraArgs...)
	argv = append(argv, target)
	return execEditor(argv)
}
