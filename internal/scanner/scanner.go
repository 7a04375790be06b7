// Package scanner extracts imported module names from Python source files.
//
// The scan is purely lexical: the file is never executed and never fed to a
// real Python parser. Comments and string literals (including triple-quoted
// ones) are blanked out first, then import statements are read line by line.
// This keeps the scanner safe on untrusted or side-effecting sources, and
// tolerant of files a strict parser would reject.
package scanner

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// SourceUnreadableError reports a file that could not be read for scanning.
// It is attributable to one path and is not fatal to a whole resolution run.
type SourceUnreadableError struct {
	Path string
	Err  error
}

func (e *SourceUnreadableError) Error() string {
	return fmt.Sprintf("source unreadable: %s: %v", e.Path, e.Err)
}

func (e *SourceUnreadableError) Unwrap() error {
	return e.Err
}

// Scan returns the imported module names of the Python file at path, in
// first-occurrence order with duplicates collapsed. Dotted imports report
// only their top-level package ("a.b.c" yields "a").
func Scan(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: err}
	}
	defer f.Close()

	names, err := ScanReader(f)
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: err}
	}
	return names, nil
}

// ScanReader scans Python source from r. See Scan.
func ScanReader(r io.Reader) ([]string, error) {
	bs, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		name = topLevel(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, line := range logicalLines(stripLiterals(string(bs))) {
		switch {
		case strings.HasPrefix(line, "import "):
			for _, item := range strings.Split(line[len("import "):], ",") {
				add(firstToken(item))
			}
		case strings.HasPrefix(line, "from "):
			rest := line[len("from "):]
			module, imported, ok := strings.Cut(rest, " import ")
			if !ok {
				continue
			}
			module = strings.TrimSpace(module)
			if trimmed := strings.TrimLeft(module, "."); trimmed != "" {
				// "from .utils import x" resolves like "utils" relative to
				// the importing file, so the leading dots are dropped.
				add(trimmed)
			} else {
				// "from . import a, b" names the siblings directly.
				for _, item := range strings.Split(imported, ",") {
					add(firstToken(item))
				}
			}
		}
	}

	return names, nil
}

// topLevel reduces a dotted module path to its top-level package name.
func topLevel(name string) string {
	name, _, _ = strings.Cut(name, ".")
	return name
}

// firstToken returns the first identifier of an import item, dropping any
// "as alias" clause and surrounding parentheses.
func firstToken(item string) string {
	item = strings.Trim(strings.TrimSpace(item), "()")
	fields := strings.Fields(item)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// logicalLines splits blanked source into trimmed statements, joining
// backslash continuations and open-parenthesis spans so that multi-line
// from-imports read as one line.
func logicalLines(src string) []string {
	raw := strings.Split(src, "\n")
	var lines []string
	var pending string
	depth := 0

	for _, line := range raw {
		line = strings.TrimRight(line, " \t\r")
		cont := strings.HasSuffix(line, "\\")
		if cont {
			line = strings.TrimSuffix(line, "\\")
		}
		depth += strings.Count(line, "(") - strings.Count(line, ")")

		pending += " " + line
		if cont || depth > 0 {
			continue
		}
		lines = append(lines, statements(pending)...)
		pending = ""
		depth = 0
	}
	if pending != "" {
		lines = append(lines, statements(pending)...)
	}
	return lines
}

// statements splits a logical line on ";" so that compound statements like
// "import a; import b" read as separate lines. Semicolons inside string
// literals are already blanked at this point.
func statements(line string) []string {
	var out []string
	for _, stmt := range strings.Split(line, ";") {
		if stmt = strings.Join(strings.Fields(stmt), " "); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// stripLiterals blanks comments and the contents of string literals while
// preserving newlines, so that the import parser never sees quoted text.
func stripLiterals(src string) string {
	var out strings.Builder
	out.Grow(len(src))

	const (
		code = iota
		comment
		str
	)
	state := code
	var quote string // active string delimiter: ' " ''' or """

	for i := 0; i < len(src); {
		c := src[i]
		switch state {
		case code:
			switch {
			case c == '#':
				state = comment
				i++
			case c == '\'' || c == '"':
				if i+2 < len(src) && src[i+1] == c && src[i+2] == c {
					quote = string(src[i : i+3])
					i += 3
				} else {
					quote = string(c)
					i++
				}
				state = str
			default:
				out.WriteByte(c)
				i++
			}
		case comment:
			if c == '\n' {
				out.WriteByte(c)
				state = code
			}
			i++
		case str:
			switch {
			case c == '\\' && i+1 < len(src):
				i += 2
			case strings.HasPrefix(src[i:], quote):
				i += len(quote)
				state = code
			default:
				if c == '\n' {
					out.WriteByte(c)
				}
				i++
			}
		}
	}

	return out.String()
}
