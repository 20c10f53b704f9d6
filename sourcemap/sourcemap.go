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

// Package sourcemap builds and merges standard v3 JSON source maps. The
// VLQ segment codec is a compact reimplementation of the scheme used by
// every JavaScript source-map consumer; no third-party repo in the
// example pack ships source-map code of its own, so this is grounded on
// the only pack member that implements the algorithm (see DESIGN.md).
package sourcemap

import (
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// encodeVLQ appends the base64 VLQ encoding of value to dst.
func encodeVLQ(dst []byte, value int) []byte {
	vlq := value << 1
	if value < 0 {
		vlq = (-value << 1) | 1
	}
	for {
		digit := vlq & 0x1f
		vlq >>= 5
		if vlq != 0 {
			digit |= 0x20
		}
		dst = append(dst, base64Chars[digit])
		if vlq == 0 {
			break
		}
	}
	return dst
}

// Segment is one mapping: a generated column plus an optional reference
// into Sources/Names and an original line/column.
type Segment struct {
	GeneratedColumn int
	SourceIndex     int
	OriginalLine    int
	OriginalColumn  int
	HasSource       bool
}

// Map is a standard v3 source map.
type Map struct {
	Version        int      `json:"version"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
	SourceRoot     string   `json:"sourceRoot,omitempty"`
}

// Chunk is one Module's contribution to a bundle: generated code plus
// either a source map decoded from the transpiler, or (when Map is nil)
// a single original source path the code maps to line-for-line.
type Chunk struct {
	Code       string
	Map        *Map // nil when the Module has no map of its own
	SourcePath string
}

// Merger accumulates Chunks in traversal order and produces one merged
// v3 map rooted at "/", per spec.md §4.5 ("final artifact is serialized
// with a merged source map rooted at /").
type Merger struct {
	code       strings.Builder
	sources    []string
	sourceIdx  map[string]int
	mappings   strings.Builder
	genLine    int // 0-based line of the next byte written to code
	prevSource int
	prevOrig   int
	firstOnGen bool
}

// NewMerger creates an empty Merger.
func NewMerger() *Merger {
	return &Merger{
		sourceIdx:  make(map[string]int),
		firstOnGen: true,
	}
}

func (g *Merger) sourceIndexFor(path string) int {
	if path == "" {
		return -1
	}
	if idx, ok := g.sourceIdx[path]; ok {
		return idx
	}
	idx := len(g.sources)
	g.sources = append(g.sources, path)
	g.sourceIdx[path] = idx
	return idx
}

// Add appends one Chunk's code and mappings to the merge.
func (g *Merger) Add(c Chunk) {
	if c.Map != nil {
		g.addWithMap(c)
	} else {
		g.addLineByLine(c)
	}
	if !strings.HasSuffix(c.Code, "\n") {
		g.code.WriteByte('\n')
		g.genLine++
		g.mappings.WriteByte(';')
	}
}

// addLineByLine emits one identity mapping per generated line against
// c.SourcePath, column 0, used when the Module carries no map of its own.
func (g *Merger) addLineByLine(c Chunk) {
	srcIdx := g.sourceIndexFor(c.SourcePath)
	g.code.WriteString(c.Code)

	lines := strings.Split(c.Code, "\n")
	for i, line := range lines {
		_ = line
		if i > 0 {
			g.mappings.WriteByte(';')
			g.genLine++
		}
		if srcIdx < 0 {
			continue
		}
		seg := make([]byte, 0, 16)
		seg = encodeVLQ(seg, 0) // generated column 0
		seg = encodeVLQ(seg, srcIdx-g.prevSource)
		seg = encodeVLQ(seg, i-g.prevOrig)
		seg = encodeVLQ(seg, 0) // original column 0
		g.mappings.Write(seg)
		g.prevSource = srcIdx
		g.prevOrig = i
	}
}

// addWithMap decodes c.Map's own mappings, re-bases each segment's
// source index into the merged Sources array, and shifts generated
// lines by the merge's current offset.
func (g *Merger) addWithMap(c Chunk) {
	remap := make([]int, len(c.Map.Sources))
	for i, s := range c.Map.Sources {
		remap[i] = g.sourceIndexFor(s)
	}

	g.code.WriteString(c.Code)

	lineGroups := strings.Split(c.Map.Mappings, ";")
	for li, group := range lineGroups {
		if li > 0 {
			g.mappings.WriteByte(';')
			g.genLine++
		}
		if group == "" {
			continue
		}
		prevGenCol, prevSrc, prevOrigLine, prevOrigCol := 0, 0, 0, 0
		first := true
		for _, seg := range strings.Split(group, ",") {
			if seg == "" {
				continue
			}
			values := decodeSegment(seg)
			if len(values) == 0 {
				continue
			}
			genCol := prevGenCol + values[0]
			prevGenCol = genCol

			if !first {
				g.mappings.WriteByte(',')
			}
			first = false

			out := make([]byte, 0, 16)
			out = encodeVLQ(out, genCol)
			if len(values) >= 4 {
				srcLocal := prevSrc + values[1]
				prevSrc = srcLocal
				origLine := prevOrigLine + values[2]
				prevOrigLine = origLine
				origCol := prevOrigCol + values[3]
				prevOrigCol = origCol

				srcIdx := 0
				if srcLocal >= 0 && srcLocal < len(remap) {
					srcIdx = remap[srcLocal]
				}
				out = encodeVLQ(out, srcIdx-g.prevSource)
				out = encodeVLQ(out, origLine-g.prevOrig)
				out = encodeVLQ(out, origCol)
				g.prevSource = srcIdx
				g.prevOrig = origLine
			}
			g.mappings.Write(out)
		}
	}
}

// decodeSegment decodes one comma-separated VLQ segment into its raw
// (not delta-accumulated across segments) field values.
func decodeSegment(seg string) []int {
	var values []int
	i := 0
	for i < len(seg) {
		shift := 0
		value := 0
		negate := false
		for {
			c := seg[i]
			i++
			digit := strings.IndexByte(base64Chars, c)
			if digit < 0 {
				break
			}
			if shift == 0 {
				negate = digit&1 != 0
				value = (digit >> 1) & 0x0f
				shift = 4
			} else {
				value |= (digit & 0x1f) << shift
				shift += 5
			}
			if digit&0x20 == 0 {
				break
			}
		}
		if negate {
			value = -value
		}
		values = append(values, value)
	}
	return values
}

// Code returns the accumulated generated source.
func (g *Merger) Code() string { return g.code.String() }

// Map returns the merged v3 source map, rooted at "/" with sourcesContent
// omitted, per spec.md §6.
func (g *Merger) Map() *Map {
	return &Map{
		Version:    3,
		Sources:    g.sources,
		Names:      []string{},
		Mappings:   g.mappings.String(),
		SourceRoot: "/",
	}
}
