package app_test

import (
	"context"
	"strings"
	"testing"

	"github.com/porterhq/porter/app"
	"github.com/porterhq/porter/internal/mapfs"
)

func newApp(t *testing.T, f *mapfs.MapFileSystem, cfg app.Config) *app.App {
	t.Helper()
	cfg.Root = "/app"
	cfg.Dest = t.TempDir()
	a, err := app.New(f, nil, cfg, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func basicFS() *mapfs.MapFileSystem {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/index.js", `import { greet } from "./greet.js";
import pad from "left-pad";`, 0o644)
	f.AddFile("/app/greet.js", `export function greet() {}`, 0o644)
	f.AddFile("/app/node_modules/left-pad/package.json", `{"name":"left-pad","version":"1.3.0","main":"index.js"}`, 0o644)
	f.AddFile("/app/node_modules/left-pad/index.js", `module.exports = function () {};`, 0o644)
	return f
}

func TestReadAssetLoaderIncludesLockConfig(t *testing.T) {
	f := basicFS()
	a := newApp(t, f, app.DefaultConfig())

	asset, err := a.ReadAsset(context.Background(), "loader.js", true)
	if err != nil {
		t.Fatalf("ReadAsset(loader.js) error = %v", err)
	}
	if !strings.Contains(asset.Code, "porter.define") {
		t.Errorf("loader.js missing runtime loader body:\n%s", asset.Code)
	}
	if !strings.Contains(asset.Code, "porter.lock") {
		t.Errorf("loader.js missing appended lock config:\n%s", asset.Code)
	}
}

func TestReadAssetLoaderConfigJSON(t *testing.T) {
	f := basicFS()
	a := newApp(t, f, app.DefaultConfig())

	// The lock lists a dependency once a parsed Module resolves into it.
	if _, err := a.ReadAsset(context.Background(), "index.js", true); err != nil {
		t.Fatalf("ReadAsset(index.js) error = %v", err)
	}

	asset, err := a.ReadAsset(context.Background(), "loaderConfig.json", true)
	if err != nil {
		t.Fatalf("ReadAsset(loaderConfig.json) error = %v", err)
	}
	if !strings.Contains(asset.Code, `"left-pad":"1.3.0"`) {
		t.Errorf("loaderConfig.json missing lock entry:\n%s", asset.Code)
	}
	if asset.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", asset.ContentType)
	}
}

func TestReadAssetServiceWorker(t *testing.T) {
	f := basicFS()
	a := newApp(t, f, app.DefaultConfig())

	asset, err := a.ReadAsset(context.Background(), "porter-sw.js", true)
	if err != nil {
		t.Fatalf("ReadAsset(porter-sw.js) error = %v", err)
	}
	if !strings.Contains(asset.Code, "self.addEventListener") {
		t.Errorf("porter-sw.js missing service worker body:\n%s", asset.Code)
	}
}

func TestReadAssetRootEntryMainVsNonMain(t *testing.T) {
	f := basicFS()
	a := newApp(t, f, app.DefaultConfig())

	main, err := a.ReadAsset(context.Background(), "index.js", true)
	if err != nil {
		t.Fatalf("ReadAsset(index.js, main=true) error = %v", err)
	}
	if !strings.Contains(main.Code, "function define(id, factory)") {
		t.Errorf("main=true bundle missing loader:\n%s", main.Code)
	}
	if !strings.Contains(main.Code, `porter.define("index.js"`) {
		t.Errorf("main=true bundle missing entry module registration:\n%s", main.Code)
	}

	notMain, err := a.ReadAsset(context.Background(), "index.js", false)
	if err != nil {
		t.Fatalf("ReadAsset(index.js, main=false) error = %v", err)
	}
	if strings.Contains(notMain.Code, "function define(id, factory)") {
		t.Errorf("main=false bundle unexpectedly includes loader:\n%s", notMain.Code)
	}
	if !strings.Contains(notMain.Code, `porter.define("index.js"`) {
		t.Errorf("main=false bundle missing entry module registration:\n%s", notMain.Code)
	}
	if !strings.Contains(notMain.Code, "export function greet") {
		t.Errorf("main=false bundle missing greet.js contribution:\n%s", notMain.Code)
	}
}

func TestReadAssetMapSibling(t *testing.T) {
	f := basicFS()
	a := newApp(t, f, app.DefaultConfig())

	mapAsset, err := a.ReadAsset(context.Background(), "index.js.map", true)
	if err != nil {
		t.Fatalf("ReadAsset(index.js.map) error = %v", err)
	}
	if mapAsset.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", mapAsset.ContentType)
	}
}

func TestReadAssetDependencyAssetID(t *testing.T) {
	f := basicFS()
	a := newApp(t, f, app.DefaultConfig())

	// Dependency ids are routed through the lock, which lists left-pad
	// once index.js has been parsed.
	if _, err := a.ReadAsset(context.Background(), "index.js", true); err != nil {
		t.Fatalf("ReadAsset(index.js) error = %v", err)
	}

	asset, err := a.ReadAsset(context.Background(), "left-pad/1.3.0/index.js", true)
	if err != nil {
		t.Fatalf("ReadAsset(left-pad/1.3.0/index.js) error = %v", err)
	}
	if asset.Code == "" {
		t.Errorf("dependency asset returned empty code")
	}
}

func TestReadAssetDependencyIDDoesNotMatchOrdinarySlashedEntry(t *testing.T) {
	f := mapfs.New()
	f.AddFile("/app/package.json", `{"name":"app","version":"1.0.0"}`, 0o644)
	f.AddFile("/app/components/home.js", `export const home = 1;`, 0o644)

	a := newApp(t, f, app.DefaultConfig())

	asset, err := a.ReadAsset(context.Background(), "components/home.js", true)
	if err != nil {
		t.Fatalf("ReadAsset(components/home.js) error = %v", err)
	}
	if !strings.Contains(asset.Code, "home = 1") {
		t.Errorf("ordinary slashed entry id was misrouted as a dependency asset:\n%s", asset.Code)
	}
}

func TestReadAssetUnknownMapReturnsNotFound(t *testing.T) {
	f := basicFS()
	a := newApp(t, f, app.DefaultConfig())

	if _, err := a.ReadAsset(context.Background(), "nope.js.map", true); err == nil {
		t.Errorf("expected an error for an unresolved .map sibling")
	}
}
