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
	"regexp"
)

// NotesRef is the annotation namespace read during imports.
const NotesRef = "refs/notes/upstream-merge"

// Note headers recognized by the import filters.
const (
	DroppedHeader   = "Dropped:"
	SupersedeHeader = "Superseded-by:"
)

var (
	// DroppedHeaderRE matches a note that marks its commit as dropped.
	DroppedHeaderRE = regexp.MustCompile(`(?im)^Dropped:\s*.+`)

	// SupersedeHeaderRE captures each superseding change-id recorded
	// in a note.
	SupersedeHeaderRE = regexp.MustCompile(`(?im)^Superseded-by:\s*(\S+)\s*$`)
)

// ReadNote returns the note attached to commit under notesRef. The
// second result is false when the commit has no note; other failures
// propagate.
func (r *Repo) ReadNote(ctx context.Context, commit, notesRef string) (string, bool, error) {
	out, err := r.g.Output(ctx, "notes", "--ref", notesRef, "show", commit)
	if err != nil {
		if exitCode(err) == 1 {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// AppendNote appends message to the note of commit under notesRef,
// creating the note if absent.
func (r *Repo) AppendNote(ctx context.Context, commit, message, notesRef string) error {
	return r.g.Run(ctx, "notes", "--ref", notesRef, "append", "-m", message, commit)
}

// AddNote attaches a new note to commit under notesRef. Without force,
// annotating an already-annotated commit fails with NoteExistsError.
func (r *Repo) AddNote(ctx context.Context, commit, message, notesRef string, force bool) error {
	if force {
		return r.g.Run(ctx, "notes", "--ref", notesRef, "add", "-f", "-m", message, commit)
	}
	err := r.g.Run(ctx, "notes", "--ref", notesRef, "add", "-m", message, commit)
	if err != nil && exitCode(err) == 1 {
		return &NoteExistsError{Commit: commit, Ref: notesRef}
	}
	return err
}
