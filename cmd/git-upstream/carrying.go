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

	"github.com/openstack-archive/git-upstream/internal/flag"
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
)

const carryingSynopsis = "show the list of commits carried that are not upstream"

func cmdCarrying(ctx context.Context, cc *cmdContext, args []string) error {
	// Everything after "--" is handed to git log untouched.
	var extraArgs []string
	for i, a := range args {
		if a == "--" {
			extraArgs = args[i+1:]
			args = args[:i]
			break
		}
	}

	f := flag.NewFlagSet(true, "git-upstream carrying [<upstream-branch>] -- <git-log-args ...>", carryingSynopsis+`

	Purely a diagnostic wrapper: prints the output of git log for the
	range between the upstream branch and HEAD, with any arguments
	after -- passed through to git log.`)
	if err := f.Parse(args); flag.IsHelp(err) {
		f.Help(cc.stdout())
		return nil
	} else if err != nil {
		return usagef("%v", err)
	}
	if f.NArg() > 1 {
		return usagef("carrying takes at most one upstream branch")
	}
	upstream := f.Arg(0)
	if upstream == "" {
		upstream = defaultUpstream
	}

	repo, err := cc.repo(ctx)
	if err != nil {
		return err
	}
	if repo.IsDetached(ctx) {
		return &gitrepo.RepoError{Msg: "in 'detached HEAD' state"}
	}

	logArgs := append([]string{"log", "--dense"}, extraArgs...)
	logArgs = append(logArgs, upstream+"..HEAD", "--", ".")
	out, err := repo.Output(ctx, logArgs...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cc.stdout(), out)
	return err
}
