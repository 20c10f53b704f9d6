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

// Package module defines Module, one source file belonging to a Packet.
package module

// Packet is the narrow view Module needs of its owner, kept as an
// interface so this package never imports packet (which imports this
// one) and cycles are avoided.
type Packet interface {
	PacketName() string
	PacketVersion() string
	IsIsolated() bool
}

// Module is one source file with its transpiled form, parsed dependency
// edges, and lifecycle metadata (spec.md §3).
type Module struct {
	// Id is the canonical, Packet-relative module id. Always ends in
	// ".js" or ".css" regardless of the on-disk extension.
	Id string
	// File is the disk-relative path within the owning Packet.
	File string
	// Fpath is the absolute path on disk.
	Fpath string
	// Packet is the owning Packet.
	Packet Packet

	// Code is the transpiled output; Map is its source map JSON, if any.
	Code string
	Map  string

	// Children is the ordered sequence of resolved Module dependencies.
	Children []*Module

	// Source is the raw, untranspiled source text, kept for the Matcher
	// and for computing the Cache's sourceHash.
	Source string

	IsRootEntry bool
	IsPreload   bool
	IsWorker    bool
	// Fake marks a placeholder generated for an unresolved specifier.
	Fake bool
	// Preloaded marks a Module reachable from a preload entry.
	Preloaded bool
	// Isolated marks a Module treated as a bundling leaf (e.g. wasm).
	Isolated bool
}

// Family returns the transitive closure of Modules reachable from m,
// including m itself. Safe against cycles.
func (m *Module) Family() []*Module {
	seen := make(map[*Module]bool)
	var order []*Module
	var visit func(*Module)
	visit = func(n *Module) {
		if seen[n] {
			return
		}
		seen[n] = true
		order = append(order, n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(m)
	return order
}

// IsStyle reports whether the Module's canonical id is a stylesheet.
func (m *Module) IsStyle() bool {
	return len(m.Id) >= 4 && m.Id[len(m.Id)-4:] == ".css"
}

// IsScript reports whether the Module's canonical id is a script.
func (m *Module) IsScript() bool {
	return len(m.Id) >= 3 && m.Id[len(m.Id)-3:] == ".js"
}
