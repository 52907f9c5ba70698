// Package source holds source-file metadata shared by the lexer, compiler,
// and error reporting: a chunk's display name, its bytes, and lazily split
// lines for building caret-pointer diagnostics.
package source

import "strings"

// File is a named chunk of Lua source text.
type File struct {
	Name    string // chunk name, e.g. "script.lua", "<eval>", "<stdin>"
	Path    string // filesystem path, empty for REPL/eval chunks
	Content string

	lines []string
}

// NewFile creates a source file with an explicit display name and path.
func NewFile(name, path, content string) *File {
	return &File{Name: name, Path: path, Content: content}
}

// FromFile creates a source file representing an on-disk script.
func FromFile(path, content string) *File {
	return &File{Name: path, Path: path, Content: content}
}

// NewEvalFile creates a source file for a `-e`/`--execute` chunk.
func NewEvalFile(content string) *File {
	return &File{Name: "<eval>", Content: content}
}

// NewREPLFile creates a source file for one line of interactive input.
func NewREPLFile(content string) *File {
	return &File{Name: "<repl>", Content: content}
}

// Lines returns the content split on '\n', cached after first call.
func (f *File) Lines() []string {
	if f.lines == nil {
		f.lines = strings.Split(f.Content, "\n")
	}
	return f.lines
}

// DisplayName prefers the path, falling back to the chunk name.
func (f *File) DisplayName() string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name
}
