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
	"regexp"
	"strings"

	"github.com/openstack-archive/git-upstream/internal/flag"
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"github.com/openstack-archive/git-upstream/internal/search"
)

const supersedeSynopsis = "mark a commit as superseded by one or more upstream changes"

func cmdSupersede(ctx context.Context, cc *cmdContext, args []string) error {
	f := flag.NewFlagSet(true, "git-upstream supersede [-f] [-u <upstream-branch>] <commit> <change-id> [...]", supersedeSynopsis+`

	The mark is applied by means of a note in the upstream-merge
	namespace (refs/notes/upstream-merge) with one or more headers
	such as:

	Superseded-by: I82ef79c3621dacf619a02404f16464877a06f158

	The commit is dropped from subsequent imports once every listed
	change-id has landed on the upstream branch.`)
	force := f.Bool("force", false, "skip verification that the change-ids exist upstream")
	f.Alias("force", "f")
	upstreamBranch := f.String("upstream-branch", defaultUpstream, "upstream `branch` to check change-ids against")
	f.Alias("upstream-branch", "u")
	if err := f.Parse(args); flag.IsHelp(err) {
		f.Help(cc.stdout())
		return nil
	} else if err != nil {
		return usagef("%v", err)
	}
	if f.NArg() < 2 {
		return usagef("supersede takes a commit and at least one change-id")
	}
	changeIDs := f.Args()[1:]
	for _, id := range changeIDs {
		if !gitrepo.ChangeIDPattern.MatchString(id) {
			return &gitrepo.ValidationError{Msg: fmt.Sprintf("invalid change id %q", id)}
		}
	}

	repo, err := cc.repo(ctx)
	if err != nil {
		return err
	}
	bare, err := repo.IsBare(ctx)
	if err != nil {
		return err
	}
	if bare {
		return &gitrepo.RepoError{Msg: "cannot add notes in bare repositories"}
	}
	if repo.IsDetached(ctx) {
		return &gitrepo.RepoError{Msg: "in 'detached HEAD' state"}
	}
	commit, err := repo.ResolveCommit(ctx, f.Arg(0))
	if err != nil {
		return err
	}

	for _, id := range changeIDs {
		found, err := search.ChangeIDInRange(ctx, repo, id, *upstreamBranch)
		if err != nil {
			return err
		}
		if found {
			cc.log.Debugf("Change-id '%s' found in '%s'", id, *upstreamBranch)
			continue
		}
		if *force {
			cc.log.Warnf("Warning: change-id '%s' not found in '%s'", id, *upstreamBranch)
			continue
		}
		return fmt.Errorf("change-id %q not found in branch %q", id, *upstreamBranch)
	}

	// Refuse to pile up headers for change-ids already recorded.
	note, ok, err := repo.ReadNote(ctx, commit, gitrepo.NotesRef)
	if err != nil {
		return err
	}
	if ok {
		dup := regexp.MustCompile(`(?im)^` + gitrepo.SupersedeHeader + `\s?(` + strings.Join(changeIDs, "|") + `)$`)
		if m := dup.FindStringSubmatch(note); m != nil {
			cc.log.Warnf("Change-Id '%s' already present in the note for commit '%s'; note has not been added", m[1], commit)
			return nil
		}
	}
	cc.log.Debugf("Creating a supersede note for commit '%s'", commit)
	sb := new(strings.Builder)
	for _, id := range changeIDs {
		fmt.Fprintf(sb, "%s %s\n", gitrepo.SupersedeHeader, id)
	}
	return repo.AppendNote(ctx, commit, sb.String(), gitrepo.NotesRef)
}
