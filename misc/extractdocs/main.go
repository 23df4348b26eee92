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

// extractdocs analyzes git-upstream's source to find command
// documentation and writes one manpage-style markdown file per
// command.
package main

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

const cmdImportPath = "github.com/openstack-archive/git-upstream/cmd/git-upstream"

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: extractdocs OUTDIR")
		os.Exit(64)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "extractdocs:", err)
		os.Exit(1)
	}
}

func run(outDir string) error {
	cmds, err := findCommands()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "extractdocs: Found %d commands.\n", len(cmds))
	if err := os.MkdirAll(outDir, 0o777); err != nil {
		return err
	}
	success := true
	for _, c := range cmds {
		if err := writePage(filepath.Join(outDir, c.name+".md"), c); err != nil {
			fmt.Fprintf(os.Stderr, "extractdocs: %v\n", err)
			success = false
		}
	}
	if !success {
		return errors.New("not all pages written")
	}
	return nil
}

type command struct {
	name        string
	synopsis    string
	description string
}

// findCommands loads the command package and pulls the synopsis and
// description strings out of every flag.NewFlagSet call whose
// synopsis names a subcommand. The arguments are constant
// expressions, so the type checker folds them for us.
func findCommands() ([]*command, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax |
			packages.NeedTypes | packages.NeedTypesInfo | packages.NeedDeps | packages.NeedImports,
	}
	pkgs, err := packages.Load(cfg, cmdImportPath)
	if err != nil {
		return nil, err
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, errors.New("packages contained errors")
	}

	var cmds []*command
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			ast.Inspect(file, func(n ast.Node) bool {
				call, ok := n.(*ast.CallExpr)
				if !ok || len(call.Args) < 3 {
					return true
				}
				sel, ok := call.Fun.(*ast.SelectorExpr)
				if !ok || sel.Sel.Name != "NewFlagSet" {
					return true
				}
				synopsis := stringConstant(pkg, call.Args[1])
				description := stringConstant(pkg, call.Args[2])
				if synopsis == "" {
					return true
				}
				words := strings.Fields(synopsis)
				if len(words) < 2 || words[0] != "git-upstream" || strings.HasPrefix(words[1], "[") {
					return true
				}
				cmds = append(cmds, &command{
					name:        words[1],
					synopsis:    synopsis,
					description: description,
				})
				return true
			})
		}
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })
	return cmds, nil
}

func stringConstant(pkg *packages.Package, expr ast.Expr) string {
	tv, ok := pkg.TypesInfo.Types[expr]
	if !ok || tv.Value == nil || tv.Value.Kind() != constant.String {
		return ""
	}
	return constant.StringVal(tv.Value)
}

func writePage(path string, c *command) error {
	sb := new(strings.Builder)
	fmt.Fprintf(sb, "# git-upstream %s\n\n", c.name)
	fmt.Fprintf(sb, "## SYNOPSIS\n\n    %s\n\n", c.synopsis)
	fmt.Fprintf(sb, "## DESCRIPTION\n\n")
	for _, line := range strings.Split(c.description, "\n") {
		fmt.Fprintln(sb, strings.TrimPrefix(line, "\t"))
	}
	return os.WriteFile(path, []byte(sb.String()), 0o666)
}
