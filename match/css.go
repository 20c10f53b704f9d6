/*
Copyright © 2026 Porter Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package match

// FindAllCSS extracts @import specifiers from a stylesheet, recognizing
// both @import "x" and @import url(x) forms (spec.md §4.1). No CSS
// grammar binding is imported anywhere in the retrieved example pack, so
// this one concern is a small hand-written scanner instead of a
// tree-sitter query (see DESIGN.md).
//
// The scanner tracks string and comment state byte-by-byte so it is
// never triggered by an "@import" that only appears inside a string or
// a /* ... */ comment, and terminates linearly in len(source).
func FindAllCSS(source []byte) ([]Specifier, error) {
	var specs []Specifier
	line := 1
	i := 0
	n := len(source)

	for i < n {
		c := source[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == '/' && i+1 < n && source[i+1] == '*':
			i += 2
			for i+1 < n && !(source[i] == '*' && source[i+1] == '/') {
				if source[i] == '\n' {
					line++
				}
				i++
			}
			i += 2
		case c == '"' || c == '\'':
			i = skipString(source, i, c, &line)
		case c == '@' && hasPrefixFold(source[i:], "@import"):
			spec, next, specLine := parseImportAt(source, i, line)
			if spec != "" {
				specs = append(specs, Specifier{Value: spec, Line: specLine})
			}
			line = countNewlines(source[i:next], line)
			i = next
		default:
			i++
		}
	}
	return specs, nil
}

func hasPrefixFold(b []byte, prefix string) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		bc, pc := b[i], prefix[i]
		if 'A' <= bc && bc <= 'Z' {
			bc += 'a' - 'A'
		}
		if 'A' <= pc && pc <= 'Z' {
			pc += 'a' - 'A'
		}
		if bc != pc {
			return false
		}
	}
	return true
}

func countNewlines(b []byte, startLine int) int {
	line := startLine
	for _, c := range b {
		if c == '\n' {
			line++
		}
	}
	return line
}

// parseImportAt parses "@import ...;" starting at i (pointing at '@'),
// returning the specifier (empty if none found), the index just past
// the statement (or past "@import" on failure), and the specifier's line.
func parseImportAt(source []byte, i int, line int) (spec string, next int, specLine int) {
	j := i + len("@import")
	specLine = line
	// skip whitespace
	for j < len(source) && isSpace(source[j]) {
		if source[j] == '\n' {
			specLine++
		}
		j++
	}
	if j >= len(source) {
		return "", j, specLine
	}

	if source[j] == '"' || source[j] == '\'' {
		quote := source[j]
		start := j + 1
		k := start
		for k < len(source) && source[k] != quote {
			k++
		}
		value := string(source[start:k])
		end := k + 1
		return value, skipToSemicolon(source, end), specLine
	}

	if hasPrefixFold(source[j:], "url(") {
		start := j + len("url(")
		k := start
		for k < len(source) && source[k] != ')' {
			k++
		}
		raw := string(source[start:k])
		trimmed := trimQuotesAndSpace(raw)
		end := k + 1
		return trimmed, skipToSemicolon(source, end), specLine
	}

	return "", j, specLine
}

func skipToSemicolon(source []byte, from int) int {
	k := from
	for k < len(source) && source[k] != ';' {
		k++
	}
	if k < len(source) {
		k++
	}
	return k
}

func trimQuotesAndSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	s = s[start:end]
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func skipString(source []byte, i int, quote byte, line *int) int {
	i++
	for i < len(source) {
		if source[i] == '\\' {
			i += 2
			continue
		}
		if source[i] == '\n' {
			*line++
		}
		if source[i] == quote {
			return i + 1
		}
		i++
	}
	return i
}
