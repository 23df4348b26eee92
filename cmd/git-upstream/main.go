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

// git-upstream tracks locally carried changes across upstream imports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"github.com/openstack-archive/git-upstream/internal/flag"
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"github.com/openstack-archive/git-upstream/internal/sigterm"
	"github.com/sirupsen/logrus"
)

func main() {
	pctx := osProcessContext()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sig, sigterm.Signals()...)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-done:
		}
	}()
	err := run(ctx, pctx, os.Args[1:])
	close(done)
	if err != nil {
		fmt.Fprintln(pctx.stderr, "git-upstream:", err)
		if isUsage(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// processContext is the state tied to the process environment, kept
// separate so tests can substitute their own.
type processContext struct {
	dir    string
	env    []string
	argv0  string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func osProcessContext() *processContext {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	argv0, err := os.Executable()
	if err != nil {
		argv0 = os.Args[0]
	}
	return &processContext{
		dir:    dir,
		env:    os.Environ(),
		argv0:  argv0,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func run(ctx context.Context, pctx *processContext, args []string) error {
	const synopsis = "git-upstream [options] COMMAND [ARG [...]]"
	const description = "Command-line tool for tracking upstream revisions\n\n" +
		"commands:\n" +
		"  import        " + importSynopsis + "\n" +
		"  drop          " + dropSynopsis + "\n" +
		"  supersede     " + supersedeSynopsis + "\n" +
		"  carrying      " + carryingSynopsis + "\n" +
		"\nSee \"git-upstream help COMMAND\" for help on a specific command."

	globalFlags := flag.NewFlagSet(false, synopsis, description)
	quiet := globalFlags.Bool("quiet", false, "suppress additional output except for errors, conflicts with --verbose")
	globalFlags.Alias("quiet", "q")
	verbose := globalFlags.Count("verbose", 1, "increase verbosity from commands, conflicts with --quiet; may be set more than once")
	globalFlags.Alias("verbose", "v")
	logLevel := globalFlags.String("log-level", "notset", "`level` of messages recorded to the log file")
	globalFlags.Hide("log-level")
	logFile := globalFlags.String("log-file", "", "`path` of a file to record messages to")
	globalFlags.Hide("log-file")
	versionFlag := globalFlags.Bool("version", false, "display version information")
	if err := globalFlags.Parse(args); flag.IsHelp(err) {
		globalFlags.Help(pctx.stdout)
		return nil
	} else if err != nil {
		return usagef("%v", err)
	}
	if *quiet && *verbose > 1 {
		return usagef("--quiet and --verbose are mutually exclusive")
	}

	log, err := newLogger(pctx, *quiet, *verbose, *logLevel, *logFile)
	if err != nil {
		return err
	}

	cc := &cmdContext{
		pctx: pctx,
		log:  log,
	}
	if *versionFlag {
		return showVersion(ctx, cc)
	}
	if globalFlags.NArg() == 0 {
		globalFlags.Help(pctx.stdout)
		return nil
	}
	return dispatch(ctx, cc, globalFlags, globalFlags.Arg(0), globalFlags.Args()[1:])
}

// cmdContext carries everything a subcommand needs. The repository is
// opened on first use so help output works outside a repository.
type cmdContext struct {
	pctx *processContext
	log  *logrus.Logger

	repoCache *gitrepo.Repo
}

func (cc *cmdContext) stdout() io.Writer { return cc.pctx.stdout }
func (cc *cmdContext) stderr() io.Writer { return cc.pctx.stderr }

func (cc *cmdContext) repo(ctx context.Context) (*gitrepo.Repo, error) {
	if cc.repoCache == nil {
		repo, err := gitrepo.Open(ctx, gitrepo.Options{
			Dir: cc.pctx.dir,
			Env: cc.pctx.env,
			Log: cc.log,
		})
		if err != nil {
			return nil, err
		}
		cc.repoCache = repo
	}
	return cc.repoCache, nil
}

func dispatch(ctx context.Context, cc *cmdContext, globalFlags *flag.FlagSet, name string, args []string) error {
	switch name {
	case "import":
		return cmdImport(ctx, cc, args)
	case "drop":
		return cmdDrop(ctx, cc, args)
	case "supersede":
		return cmdSupersede(ctx, cc, args)
	case "carrying":
		return cmdCarrying(ctx, cc, args)
	case "rebase-editor":
		return cmdRebaseEditor(ctx, cc, args)
	case "version":
		return showVersion(ctx, cc)
	case "help":
		if len(args) == 0 {
			globalFlags.Help(cc.stdout())
			return nil
		}
		if len(args) > 1 || strings.HasPrefix(args[0], "-") {
			return usagef("help [command]")
		}
		return dispatch(ctx, cc, globalFlags, args[0], []string{"--help"})
	default:
		return usagef("unknown command %s", name)
	}
}

// Build information filled in at link time (see -X link flag).
var (
	versionInfo = ""
	buildCommit = ""
)

func showVersion(ctx context.Context, cc *cmdContext) error {
	switch {
	case versionInfo != "":
		fmt.Fprintf(cc.stdout(), "git-upstream version %s\n", versionInfo)
	case buildCommit != "":
		fmt.Fprintf(cc.stdout(), "git-upstream built from source at %s\n", buildCommit)
	default:
		fmt.Fprintln(cc.stdout(), "git-upstream built from source")
	}
	fmt.Fprintf(cc.stdout(), "go: %s %s %s/%s\n", runtime.Version(), runtime.Compiler, runtime.GOOS, runtime.GOARCH)
	repo, err := cc.repo(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cc.stdout(), "git version %s\n", repo.Version())
	return nil
}

type usageError string

func usagef(format string, args ...interface{}) error {
	e := usageError(fmt.Sprintf(format, args...))
	return &e
}

func (e *usageError) Error() string {
	return "usage: " + string(*e)
}

func isUsage(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}
	var ve *gitrepo.ValidationError
	return errors.As(err, &ve)
}
