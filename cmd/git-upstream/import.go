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
	"strings"

	"github.com/openstack-archive/git-upstream/internal/flag"
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"github.com/openstack-archive/git-upstream/internal/importer"
	"github.com/openstack-archive/git-upstream/internal/search"
)

const importSynopsis = "import code from specified upstream branch"

const defaultUpstream = "upstream/master"

func cmdImport(ctx context.Context, cc *cmdContext, args []string) error {
	f := flag.NewFlagSet(true,
		"git-upstream import [-i] [-d] [-f] [options] [<upstream-branch>] [<branches> ...]",
		importSynopsis+`

	Creates an import branch from the specified upstream branch, and
	optionally merges additional branches given as arguments. Current
	branch, unless overridden by the --into option, is used as the
	target branch from which a list of changes to apply onto the new
	import is constructed based on the specified strategy.

	Once complete it will merge and replace the contents of the target
	branch with those from the import branch, unless --no-merge is
	specified.`)
	interactive := f.Bool("interactive", false, "let the user edit the list of commits before applying")
	f.Alias("interactive", "i")
	dryRun := f.Bool("dry-run", false, "only print out the list of commits that would be applied")
	f.Alias("dry-run", "d")
	force := f.Bool("force", false, "force overwrite of existing import branch if it exists")
	f.Alias("force", "f")
	finish := f.Bool("finish", false, "merge the specified import branch into the target")
	merge := f.Bool("merge", true, "merge the resulting import branch into the target branch once complete")
	noMerge := f.Bool("no-merge", false, "disable merge of the resulting import branch")
	searchRefs := f.MultiString("search-refs", "`pattern` of refs to search for previous import commit; may be specified multiple times")
	strategyName := f.String("strategy", search.DropStrategy, "use the given `strategy` to re-apply locally carried changes to the import branch")
	f.Alias("strategy", "s")
	into := f.String("into", "HEAD", "`branch` to take changes from, and replace with imported branch")
	importBranch := f.String("import-branch", "import/{describe}", "`name` of import branch to use")
	if err := f.Parse(args); flag.IsHelp(err) {
		f.Help(cc.stdout())
		return nil
	} else if err != nil {
		return usagef("%v", err)
	}
	doMerge := *merge && !*noMerge
	if *finish && *noMerge {
		return usagef("--finish cannot be used with '--no-merge'")
	}
	if f.NArg() > 1 && *finish {
		return usagef("--finish does not take additional branches")
	}

	upstream := f.Arg(0)
	extras := []string(nil)
	if f.NArg() > 1 {
		extras = f.Args()[1:]
	}
	if upstream == "" {
		upstream = defaultUpstream
		if *finish {
			// Finishing refers to the already-created import branch.
			upstream = *importBranch
		}
	}
	if len(*searchRefs) == 0 {
		*searchRefs = []string{"upstream/*"}
	}

	repo, err := cc.repo(ctx)
	if err != nil {
		return err
	}
	if *finish && strings.Contains(*importBranch, "{describe}") {
		return &gitrepo.ValidationError{Msg: fmt.Sprintf("invalid import branch %q passed to --finish", *importBranch)}
	}

	imp, err := importer.New(ctx, repo, *into, upstream, *importBranch, extras)
	if err != nil {
		return err
	}

	if *finish {
		return finishImport(cc, imp.Finish(ctx), imp, extras)
	}

	cc.log.Info("Searching for previous import")
	strategy, err := search.NewStrategy(*strategyName, repo, imp.Branch(), upstream, *searchRefs)
	if err != nil {
		return usagef("%v", err)
	}
	raw, err := strategy.Commits(ctx)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return &importer.ImportError{Msg: "cannot find previous import"}
	}

	synced, err := imp.AlreadySynced(ctx, strategy)
	if err != nil {
		return err
	}
	if synced {
		cc.log.Info("Nothing to be imported")
		return nil
	}

	filtered, err := strategy.Filtered(ctx)
	if err != nil {
		return err
	}
	if *dryRun {
		cc.log.Info("Requested a dry-run: printing the list of commits that would be rebased")
		for _, c := range filtered {
			subject := c.Subject()
			if len(subject) > 60 {
				subject = subject[:60] + "..."
			}
			fmt.Fprintf(cc.stdout(), "%s - %s\n", c.Hash[:6], subject)
		}
		return nil
	}

	cc.log.Info("Starting import of upstream")
	if err := imp.CreateImport(ctx, "", false, *force); err != nil {
		return err
	}
	cc.log.Info("Successfully created import branch")

	var finishCmdline []string
	if doMerge {
		finishCmdline = append([]string{
			cc.pctx.argv0, "import", "--finish",
			"--into", imp.Branch(),
			"--import-branch", imp.ImportBranch(),
			upstream,
		}, extras...)
	}
	helperCmdline := []string{cc.pctx.argv0, "rebase-editor"}

	applied, err := imp.Apply(ctx, strategy, *interactive, finishCmdline, helperCmdline)
	if err != nil {
		return err
	}
	if !applied {
		cc.log.Info("Import cancelled")
		return nil
	}
	if !doMerge {
		cc.log.Infof("Import complete, not merging to target branch '%s' as requested.", imp.Branch())
		return nil
	}

	// When the rebase ran, its exec instruction performed the merge
	// step already. In the editor test mode the exec line is omitted,
	// and with an empty commit list Apply handled the merge itself,
	// so only the test mode needs the merge done here.
	if len(filtered) > 0 && os.Getenv(importer.RebaseEditorEnv) == "1" {
		return finishImport(cc, imp.Finish(ctx), imp, extras)
	}
	return finishImport(cc, nil, imp, extras)
}

// finishImport reports the outcome of the merge step.
func finishImport(cc *cmdContext, err error, imp *importer.Importer, extras []string) error {
	if err != nil {
		return err
	}
	cc.log.Infof("Successfully finished import: target branch: '%s', upstream branch: '%s', import branch: '%s'",
		imp.Branch(), imp.Upstream(), imp.ImportBranch())
	for _, b := range extras {
		cc.log.Infof("    extra branch: '%s'", b)
	}
	return nil
}
