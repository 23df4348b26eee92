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

// Package gittest builds synthetic git repositories from declarative
// commit graphs for use in tests.
package gittest

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/openstack-archive/git-upstream/internal/filesystem"
	"github.com/openstack-archive/git-upstream/internal/gitrepo"
	"github.com/sirupsen/logrus"
)

// A Node is one commit in a graph definition. Parents are referenced
// by node name; the first parent is the mainline. A parent written as
// "=X" marks a merge whose resulting tree is adopted wholesale from X
// (the inverse-ours merge). A node named like "B1" is created by
// cherry-picking node "B" ("B2" picks "B1", and so on), giving it an
// equivalent patch but a different id.
type Node struct {
	Name    string
	Parents []string
	// Message overrides the generated commit message. Useful for
	// planting Change-Id footers.
	Message string
}

// Repo is a scratch git repository populated from a graph definition.
type Repo struct {
	Root filesystem.Dir
	Repo *gitrepo.Repo

	// Commits maps node names to the hex ids created for them.
	Commits map[string]string
}

// NewRepo initializes an empty repository in dir with a hermetic
// environment and deterministic committer identity.
func NewRepo(ctx context.Context, dir string) (*Repo, error) {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_AUTHOR_NAME=git-upstream test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=git-upstream test",
		"GIT_COMMITTER_EMAIL=test@example.com",
		"TERM=dumb",
	}
	if tmp := os.Getenv("TMPDIR"); tmp != "" {
		env = append(env, "TMPDIR="+tmp)
	}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	repo, err := gitrepo.Open(ctx, gitrepo.Options{Dir: dir, Env: env, Log: log})
	if err != nil {
		return nil, err
	}
	if err := repo.Git().Init(ctx, "."); err != nil {
		return nil, err
	}
	for _, kv := range [][2]string{
		{"user.name", "git-upstream test"},
		{"user.email", "test@example.com"},
	} {
		if err := repo.Run(ctx, "config", kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return &Repo{
		Root:    filesystem.Dir(dir),
		Repo:    repo,
		Commits: make(map[string]string),
	}, nil
}

var pickSourceRE = regexp.MustCompile(`(.*?)(\d+)$`)

// pickSource returns the node that a numbered node duplicates, or ""
// for ordinary nodes.
func pickSource(name string) string {
	m := pickSourceRE.FindStringSubmatch(name)
	if m == nil || m[1] == "" {
		return ""
	}
	n := 0
	fmt.Sscanf(m[2], "%d", &n)
	if n <= 1 {
		return m[1]
	}
	return fmt.Sprintf("%s%d", m[1], n-1)
}

// Build creates the commits described by graph. The definition may be
// given in any order; a cycle is reported as an error rather than
// looping.
func (r *Repo) Build(ctx context.Context, graph []Node) error {
	byName := make(map[string]Node, len(graph))
	for _, n := range graph {
		if _, ok := byName[n.Name]; ok {
			return fmt.Errorf("gittest: node %q defined twice", n.Name)
		}
		byName[n.Name] = n
	}
	remaining := append([]Node(nil), graph...)
	for len(remaining) > 0 {
		var next []Node
		progressed := false
		for _, n := range remaining {
			if !r.ready(n, byName) {
				next = append(next, n)
				continue
			}
			if err := r.build(ctx, n); err != nil {
				return fmt.Errorf("gittest: node %q: %w", n.Name, err)
			}
			progressed = true
		}
		if !progressed {
			var names []string
			for _, n := range next {
				names = append(names, n.Name)
			}
			return fmt.Errorf("gittest: graph is not acyclic or references undefined nodes: %s",
				strings.Join(names, ", "))
		}
		remaining = next
	}
	return nil
}

func (r *Repo) ready(n Node, byName map[string]Node) bool {
	deps := make([]string, 0, len(n.Parents)+1)
	for _, p := range n.Parents {
		deps = append(deps, strings.TrimPrefix(p, "="))
	}
	if src := pickSource(n.Name); src != "" {
		deps = append(deps, src)
	}
	for _, d := range deps {
		if _, defined := byName[d]; !defined && r.Commits[d] == "" {
			// Undefined dependency: surface through the cycle error.
			return false
		}
		if r.Commits[d] == "" {
			return false
		}
	}
	return true
}

func (r *Repo) build(ctx context.Context, n Node) error {
	switch {
	case len(n.Parents) == 0:
		if err := r.rootCommit(ctx, n); err != nil {
			return err
		}
	case len(n.Parents) == 1:
		if err := r.Repo.Run(ctx, "checkout", "--detach", r.Commits[strings.TrimPrefix(n.Parents[0], "=")]); err != nil {
			return err
		}
		if err := r.plainCommit(ctx, n); err != nil {
			return err
		}
	default:
		if err := r.Repo.Run(ctx, "checkout", "--detach", r.Commits[strings.TrimPrefix(n.Parents[0], "=")]); err != nil {
			return err
		}
		if err := r.mergeCommit(ctx, n); err != nil {
			return err
		}
	}
	hash, err := r.Repo.RevParse(ctx, "HEAD")
	if err != nil {
		return err
	}
	r.Commits[n.Name] = hash
	return nil
}

func (r *Repo) rootCommit(ctx context.Context, n Node) error {
	// Point HEAD at an unborn branch so the commit starts a new root,
	// then clear out whatever the previous root left in the tree.
	if err := r.Repo.Run(ctx, "symbolic-ref", "HEAD", "refs/heads/gittest-root-"+n.Name); err != nil {
		return err
	}
	r.Repo.Run(ctx, "rm", "-r", "--cached", "--quiet", ".")
	r.Repo.Run(ctx, "clean", "-f", "-d", "-x", "--quiet")
	if err := r.writeChange(ctx, n); err != nil {
		return err
	}
	if err := r.Repo.Run(ctx, "checkout", "--detach", "HEAD"); err != nil {
		return err
	}
	return r.Repo.Run(ctx, "branch", "-D", "gittest-root-"+n.Name)
}

func (r *Repo) plainCommit(ctx context.Context, n Node) error {
	if src := pickSource(n.Name); src != "" {
		return r.Repo.Run(ctx, "cherry-pick", "-x", r.Commits[src])
	}
	return r.writeChange(ctx, n)
}

func (r *Repo) writeChange(ctx context.Context, n Node) error {
	name := "change-" + n.Name + ".txt"
	err := r.Root.Apply(filesystem.Write(name, "change "+n.Name+"\n"))
	if err != nil {
		return err
	}
	if err := r.Repo.Run(ctx, "add", "--", name); err != nil {
		return err
	}
	return r.Repo.Run(ctx, "commit", "-m", r.message(n))
}

func (r *Repo) message(n Node) string {
	if n.Message != "" {
		return n.Message
	}
	return fmt.Sprintf("[%s] change %s", n.Name, n.Name)
}

func (r *Repo) mergeCommit(ctx context.Context, n Node) error {
	others := make([]string, 0, len(n.Parents)-1)
	for _, p := range n.Parents[1:] {
		others = append(others, r.Commits[strings.TrimPrefix(p, "=")])
	}
	var adopt []string
	for _, p := range n.Parents {
		if strings.HasPrefix(p, "=") {
			adopt = append(adopt, r.Commits[strings.TrimPrefix(p, "=")])
		}
	}
	switch {
	case len(adopt) > 0:
		if err := r.mergeOurs(ctx, others); err != nil {
			return err
		}
		if err := r.Repo.Run(ctx, "read-tree", "--empty"); err != nil {
			return err
		}
		args := append([]string{"read-tree", "-u", "--reset"}, adopt...)
		if err := r.Repo.Run(ctx, args...); err != nil {
			return err
		}
	case len(others) == 1:
		if err := r.merge(ctx, []string{"merge", "--no-commit", "--no-ff"}, others); err != nil {
			return err
		}
	default:
		// Octopus merges of unrelated roots need the union spelled
		// out by hand.
		if err := r.mergeOurs(ctx, others); err != nil {
			return err
		}
		if err := r.Repo.Run(ctx, "read-tree", "--empty"); err != nil {
			return err
		}
		args := append([]string{"read-tree", "HEAD"}, others...)
		if err := r.Repo.Run(ctx, args...); err != nil {
			return err
		}
		if err := r.Repo.Run(ctx, "checkout", "--", "."); err != nil {
			return err
		}
	}
	msg := r.message(n)
	if n.Message == "" {
		msg = fmt.Sprintf("[%s] merge %s", n.Name, strings.Join(n.Parents[1:], ", "))
	}
	if err := r.Repo.Run(ctx, "commit", "-m", msg); err != nil {
		return err
	}
	return r.Repo.Run(ctx, "clean", "-f", "-d", "-x", "--quiet")
}

func (r *Repo) mergeOurs(ctx context.Context, others []string) error {
	return r.merge(ctx, []string{"merge", "-s", "ours", "--no-commit"}, others)
}

func (r *Repo) merge(ctx context.Context, cmd, others []string) error {
	err := r.Repo.Run(ctx, append(cmd, others...)...)
	if err != nil {
		// Older graph shapes merge unrelated roots; retry with the
		// flag modern git demands for that.
		withFlag := append(append([]string{}, cmd...), "--allow-unrelated-histories")
		if retryErr := r.Repo.Run(ctx, append(withFlag, others...)...); retryErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// Branch points the named branch at a node, creating or moving it.
func (r *Repo) Branch(ctx context.Context, name, node string) error {
	return r.Repo.Run(ctx, "branch", "--force", name, r.rev(node))
}

// Tag creates or moves a lightweight tag at a node.
func (r *Repo) Tag(ctx context.Context, name, node string) error {
	return r.Repo.Run(ctx, "tag", "--force", name, r.rev(node))
}

// Checkout checks out a node, branch, or revision.
func (r *Repo) Checkout(ctx context.Context, rev string) error {
	return r.Repo.Run(ctx, "checkout", r.rev(rev))
}

// rev maps a node name to its commit id, passing through anything that
// is not a known node.
func (r *Repo) rev(rev string) string {
	if c, ok := r.Commits[rev]; ok {
		return c
	}
	return rev
}

// Names returns a map from commit ids back to node names for readable
// test failures.
func (r *Repo) Names() map[string]string {
	names := make(map[string]string, len(r.Commits))
	for name, hash := range r.Commits {
		names[hash] = name
	}
	return names
}
