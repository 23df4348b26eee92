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
	"context"
	"errors"
	"regexp"
	"strings"
)

// Commit is a single commit as reported by git log.
type Commit struct {
	// Hash is the full hex object id.
	Hash string
	// Parents holds the full hex ids of the parents in order. The
	// first parent is the mainline ancestor.
	Parents []string
	// Message is the full commit message without its trailing newline.
	Message string
}

// Subject returns the first line of the commit message.
func (c *Commit) Subject() string {
	if i := strings.IndexByte(c.Message, '\n'); i != -1 {
		return c.Message[:i]
	}
	return c.Message
}

// IsMerge reports whether the commit has more than one parent.
func (c *Commit) IsMerge() bool {
	return len(c.Parents) >= 2
}

// String returns the abbreviated id and subject for diagnostics.
func (c *Commit) String() string {
	h := c.Hash
	if len(h) > 7 {
		h = h[:7]
	}
	return h + " " + c.Subject()
}

// commitLogFormat delimits the hash, parent list, and raw body of each
// commit with NUL so that messages containing blank lines survive
// parsing intact.
const commitLogFormat = "--pretty=tformat:%H%x00%P%x00%B%x00"

// LogCommits runs git log with the given revision arguments and parses
// the result. Argument order is preserved.
func (r *Repo) LogCommits(ctx context.Context, args ...string) ([]*Commit, error) {
	cmd := append([]string{"log", commitLogFormat}, args...)
	out, err := r.g.Output(ctx, cmd...)
	if err != nil {
		return nil, err
	}
	return ParseCommits(out)
}

// Commit returns the single commit named by rev.
func (r *Repo) Commit(ctx context.Context, rev string) (*Commit, error) {
	commits, err := r.LogCommits(ctx, "--max-count=1", "--no-walk", rev, "--")
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, &RefError{Ref: rev}
	}
	return commits[0], nil
}

// ParseCommits parses NUL-delimited git log output produced with
// commitLogFormat.
func ParseCommits(out string) ([]*Commit, error) {
	if out == "" {
		return nil, nil
	}
	fields := strings.Split(out, "\x00")
	// Trailing separator leaves a final newline-only field.
	if n := len(fields); strings.TrimSpace(fields[n-1]) == "" {
		fields = fields[:n-1]
	}
	if len(fields)%3 != 0 {
		return nil, errors.New("parse commits: malformed log output")
	}
	commits := make([]*Commit, 0, len(fields)/3)
	for i := 0; i < len(fields); i += 3 {
		// Each record after the first begins with the previous
		// record's terminating newline.
		hash := strings.TrimLeft(fields[i], "\n")
		c := &Commit{
			Hash:    hash,
			Message: strings.TrimRight(fields[i+2], "\n"),
		}
		if parents := strings.Fields(fields[i+1]); len(parents) > 0 {
			c.Parents = parents
		}
		if len(c.Hash) != 40 {
			return nil, errors.New("parse commits: malformed object id " + c.Hash)
		}
		commits = append(commits, c)
	}
	return commits, nil
}

var changeIDRE = regexp.MustCompile(`(?i)^Change-Id:\s*(\S+)\s*$`)

// ChangeIDPattern validates Gerrit change identifiers.
var ChangeIDPattern = regexp.MustCompile(`(?i)^I[0-9a-f]{6,40}$`)

// FooterChangeID extracts the Change-Id from the footer of a commit
// message. The footer is the last block of non-blank lines; instances
// mentioned elsewhere in the message are ignored. It returns "" when
// the footer carries no Change-Id.
func FooterChangeID(message string) string {
	lines := strings.Split(message, "\n")
	if len(lines) < 2 {
		return ""
	}
	// Walk the message bottom-up, stopping at the first blank line,
	// and never into the subject.
	for i := len(lines) - 1; i >= 1; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			break
		}
		if m := changeIDRE.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}
