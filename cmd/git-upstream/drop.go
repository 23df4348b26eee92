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

	"github.com/openstack-archive/git-upstream/internal/flag"
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
)

const dropSynopsis = "mark a commit to be dropped on next import"

func cmdDrop(ctx context.Context, cc *cmdContext, args []string) error {
	f := flag.NewFlagSet(true, "git-upstream drop [-a AUTHOR] <commit>", dropSynopsis+`

	The mark is applied by means of a note in the upstream-merge
	namespace (refs/notes/upstream-merge) with a header such as:

	Dropped: Walter White <heisenberg@hp.com>`)
	author := f.String("author", "", "git-style `author` to record as requesting the drop")
	f.Alias("author", "a")
	if err := f.Parse(args); flag.IsHelp(err) {
		f.Help(cc.stdout())
		return nil
	} else if err != nil {
		return usagef("%v", err)
	}
	if f.NArg() != 1 {
		return usagef("drop takes exactly one commit")
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
	ident := *author
	if ident == "" {
		ident, err = repo.CommitterIdent(ctx)
		if err != nil {
			return err
		}
	}

	// A commit already marked dropped stays as it is; repeating the
	// request is only worth a warning.
	note, ok, err := repo.ReadNote(ctx, commit, gitrepo.NotesRef)
	if err != nil {
		return err
	}
	if ok && gitrepo.DroppedHeaderRE.MatchString(note) {
		cc.log.Warnf("Drop note has not been added as '%s' already has one", commit)
		return nil
	}
	cc.log.Debugf("Creating a drop note for commit '%s'", commit)
	return repo.AppendNote(ctx, commit, gitrepo.DroppedHeader+" "+ident+"\n", gitrepo.NotesRef)
}
