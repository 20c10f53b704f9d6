package bundle_test

import (
	"strings"
	"testing"

	"github.com/porterhq/porter/bundle"
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

func TestObtainRootEntryIncludesLoaderAndLock(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import { greet } from "./greet.js"; import x from "left-pad";`, 0o644)
	f.AddFile("/app/greet.js", `export function greet() {}`, 0o644)
	f.AddFile("/app/node_modules/left-pad/package.json", `{"name":"left-pad","version":"1.3.0","main":"index.js"}`, 0o644)
	f.AddFile("/app/node_modules/left-pad/index.js", `module.exports = function () {};`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})
	if _, err := p.ParseEntry("index.js"); err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}

	b := bundle.New(p, []string{"index.js"}, ".js", bundle.ScopeModule)
	res, err := b.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}

	if !strings.Contains(res.Code, "porter.lock") {
		t.Errorf("code missing lock prelude:\n%s", res.Code)
	}
	if !strings.Contains(res.Code, `"left-pad":"1.3.0"`) {
		t.Errorf("code missing left-pad lock entry:\n%s", res.Code)
	}
	if !strings.Contains(res.Code, "porter.define") {
		t.Errorf("code missing runtime loader:\n%s", res.Code)
	}
	if !strings.Contains(res.Code, `porter.import("index.js")`) {
		t.Errorf("code missing trailing import call:\n%s", res.Code)
	}
	if !strings.Contains(res.Code, "export function greet") {
		t.Errorf("code missing greet.js contribution:\n%s", res.Code)
	}
	if !strings.Contains(res.Code, `porter.define("index.js"`) {
		t.Errorf("code missing define() registration for the entry module:\n%s", res.Code)
	}
	if !strings.Contains(res.Code, `porter.define("greet.js"`) {
		t.Errorf("code missing define() registration for greet.js:\n%s", res.Code)
	}
	if res.Output == "" || res.ContentHash == "" {
		t.Errorf("Output/ContentHash not populated: %+v", res)
	}
}

func TestObtainSkipsDependencyModulesUnlessScopeAll(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import x from "left-pad";`, 0o644)
	f.AddFile("/app/node_modules/left-pad/package.json", `{"name":"left-pad","version":"1.3.0","main":"index.js"}`, 0o644)
	f.AddFile("/app/node_modules/left-pad/index.js", `module.exports = "LEFTPAD_MARKER";`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})
	if _, err := p.ParseEntry("index.js"); err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}

	moduleScoped := bundle.New(p, []string{"index.js"}, ".js", bundle.ScopeModule)
	res, err := moduleScoped.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if strings.Contains(res.Code, "LEFTPAD_MARKER") {
		t.Errorf("module-scope bundle unexpectedly inlined dependency code:\n%s", res.Code)
	}

	allScoped := bundle.New(p, []string{"index.js"}, ".js", bundle.ScopeAll)
	res, err = allScoped.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if !strings.Contains(res.Code, "LEFTPAD_MARKER") {
		t.Errorf("scope=all bundle did not inline dependency code:\n%s", res.Code)
	}
}

func TestObtainCSSFormatOnlyEmitsStylesheets(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/styles.css", `@import "./base.css";`, 0o644)
	f.AddFile("/app/base.css", `body { margin: 0; }`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})
	mod, err := p.ParseEntry("styles.css")
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	if !mod.IsStyle() {
		t.Fatalf("entry not recognized as a stylesheet")
	}

	b := bundle.New(p, []string{"styles.css"}, ".css", bundle.ScopeModule)
	res, err := b.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if !strings.Contains(res.Code, "margin: 0") {
		t.Errorf("css bundle missing base.css contribution:\n%s", res.Code)
	}
	if strings.Contains(res.Code, "porter.lock") {
		t.Errorf("css bundle unexpectedly carries the js loader prelude:\n%s", res.Code)
	}
}

func TestObtainDeterministicContentHash(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import "./a.js";`, 0o644)
	f.AddFile("/app/a.js", `export const a = 1;`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})
	if _, err := p.ParseEntry("index.js"); err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}

	b1 := bundle.New(p, []string{"index.js"}, ".js", bundle.ScopeModule)
	r1, err := b1.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}

	b2 := bundle.New(p, []string{"index.js"}, ".js", bundle.ScopeModule)
	r2, err := b2.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}

	if r1.ContentHash != r2.ContentHash || r1.Code != r2.Code {
		t.Errorf("bundle output not deterministic across independent Bundles for the same graph state")
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import "./a.js";`, 0o644)
	f.AddFile("/app/a.js", `export const a = "ORIGINAL";`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{})
	if _, err := p.ParseEntry("index.js"); err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}

	b := bundle.New(p, []string{"index.js"}, ".js", bundle.ScopeModule)
	first, err := b.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if !strings.Contains(first.Code, "ORIGINAL") {
		t.Fatalf("first bundle missing original content:\n%s", first.Code)
	}

	f.AddFile("/app/a.js", `export const a = "CHANGED";`, 0o644)
	if _, err := p.Reload("a.js"); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	stale, err := b.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if !strings.Contains(stale.Code, "ORIGINAL") {
		t.Fatalf("expected cached bundle to still read ORIGINAL before Invalidate")
	}

	b.Invalidate()
	fresh, err := b.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if !strings.Contains(fresh.Code, "CHANGED") {
		t.Errorf("bundle did not pick up reloaded content after Invalidate:\n%s", fresh.Code)
	}
}

func TestObtainIsolatedDependencyNeverInlined(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import x from "widget";`, 0o644)
	f.AddFile("/app/node_modules/widget/package.json", `{"name":"widget","version":"2.0.0","main":"index.js"}`, 0o644)
	f.AddFile("/app/node_modules/widget/index.js", `module.exports = "WIDGET_MARKER";`, 0o644)

	p := newRoot(t, f, "/app", packet.Options{Isolate: []string{"widget"}})
	if _, err := p.ParseEntry("index.js"); err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}

	b := bundle.New(p, []string{"index.js"}, ".js", bundle.ScopeAll)
	res, err := b.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if strings.Contains(res.Code, "WIDGET_MARKER") {
		t.Errorf("isolated dependency module was inlined into the root bundle:\n%s", res.Code)
	}
}
