package packet_test

import (
	"testing"

	"github.com/porterhq/porter/cache"
	"github.com/porterhq/porter/internal/mapfs"
	"github.com/porterhq/porter/packet"
)

func newRoot(t *testing.T, f *mapfs.MapFileSystem, dir string, opts packet.Options) *packet.Packet {
	t.Helper()
	c := cache.New(t.TempDir())
	p, err := packet.NewRoot(f, nil, c, dir, opts)
	if err != nil {
		t.Fatalf("NewRoot() error = %v", err)
	}
	return p
}

func TestParseEntrySimpleGraph(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import { greet } from "./greet.js";`, 0o644)
	f.AddFile("/app/greet.js", `export function greet() {}`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})

	mod, err := p.ParseEntry("index.js")
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	if !mod.IsRootEntry {
		t.Errorf("ParseEntry() did not mark root entry")
	}
	if len(mod.Children) != 1 {
		t.Fatalf("ParseEntry() children = %d, want 1", len(mod.Children))
	}
	if mod.Children[0].Id != "greet.js" {
		t.Errorf("child id = %q, want greet.js", mod.Children[0].Id)
	}
	if mod.Children[0].Fake {
		t.Errorf("child unexpectedly fake")
	}
}

func TestParseEntryUnresolvedBecomesFake(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import "./missing.js";`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})

	mod, err := p.ParseEntry("index.js")
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	if len(mod.Children) != 1 {
		t.Fatalf("ParseEntry() children = %d, want 1", len(mod.Children))
	}
	if !mod.Children[0].Fake {
		t.Errorf("expected unresolved specifier to produce a fake Module")
	}
}

func TestParseEntryCycleIsNoOp(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/a.js", `import "./b.js";`, 0o644)
	f.AddFile("/app/b.js", `import "./a.js";`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})

	mod, err := p.ParseEntry("a.js")
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	b := mod.Children[0]
	if len(b.Children) != 1 || b.Children[0].Id != "a.js" {
		t.Fatalf("expected b.js to point back at a.js, got %+v", b.Children)
	}
	if b.Children[0] != mod {
		t.Errorf("cycle did not reuse the same Module instance")
	}
}

func TestParseEntryBareSpecifierDependency(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import x from "left-pad";`, 0o644)
	f.AddFile("/app/node_modules/left-pad/package.json", `{"name":"left-pad","version":"1.3.0","main":"index.js"}`, 0o644)
	f.AddFile("/app/node_modules/left-pad/index.js", `module.exports = function () {};`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})

	mod, err := p.ParseEntry("index.js")
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	if len(mod.Children) != 1 {
		t.Fatalf("ParseEntry() children = %d, want 1", len(mod.Children))
	}
	child := mod.Children[0]
	if child.Fake {
		t.Fatalf("dependency specifier unexpectedly unresolved")
	}
	if child.Packet.PacketName() != "left-pad" || child.Packet.PacketVersion() != "1.3.0" {
		t.Errorf("child Packet = %s@%s, want left-pad@1.3.0", child.Packet.PacketName(), child.Packet.PacketVersion())
	}

	lock := p.LockSnapshot()
	if lock["left-pad"] != "1.3.0" {
		t.Errorf("LockSnapshot()[left-pad] = %q, want 1.3.0", lock["left-pad"])
	}
}

func TestReloadReplacesChildrenInPlace(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import "./a.js";`, 0o644)
	f.AddFile("/app/a.js", `export const a = 1;`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})

	mod, err := p.ParseEntry("index.js")
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	if len(mod.Children) != 1 {
		t.Fatalf("initial children = %d, want 1", len(mod.Children))
	}

	f.AddFile("/app/index.js", `import "./a.js";import "./b.js";`, 0o644)
	f.AddFile("/app/b.js", `export const b = 1;`, 0o644)

	reloaded, err := p.Reload("index.js")
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if reloaded != mod {
		t.Fatalf("Reload() changed Module identity")
	}
	if len(mod.Children) != 2 {
		t.Fatalf("reloaded children = %d, want 2", len(mod.Children))
	}
}

func TestDirectoryRequireRecordsFolder(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import "./widgets";`, 0o644)
	f.AddFile("/app/widgets/index.js", `export {};`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})

	if _, err := p.ParseEntry("index.js"); err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}

	folders := p.Folders()
	if len(folders) != 1 || folders[0] != "widgets" {
		t.Errorf("Folders() = %v, want [widgets]", folders)
	}
}
