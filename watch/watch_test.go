package watch_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/porterhq/porter/bundle"
	"github.com/porterhq/porter/cache"
	"github.com/porterhq/porter/fs"
	"github.com/porterhq/porter/packet"
	"github.com/porterhq/porter/watch"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s) error = %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestWatchRebuildsBundleOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{"name":"app","version":"1.0.0"}`)
	writeFile(t, filepath.Join(dir, "index.js"), `import "./a.js";`)
	writeFile(t, filepath.Join(dir, "a.js"), `export const a = "ORIGINAL";`)

	f := fs.NewOSFileSystem()
	c := cache.New(t.TempDir())
	p, err := packet.NewRoot(f, nil, c, dir, packet.Options{})
	if err != nil {
		t.Fatalf("NewRoot() error = %v", err)
	}
	if _, err := p.ParseEntry("index.js"); err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}

	b := bundle.New(p, []string{"index.js"}, ".js", bundle.ScopeModule)
	first, err := b.Obtain(bundle.Options{})
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	if !strings.Contains(first.Code, "ORIGINAL") {
		t.Fatalf("initial bundle missing ORIGINAL:\n%s", first.Code)
	}

	w, err := watch.New(p, dir, nil)
	if err != nil {
		t.Fatalf("watch.New() error = %v", err)
	}
	defer w.Close()
	w.Watch(b)

	writeFile(t, filepath.Join(dir, "a.js"), `export const a = "CHANGED";`)

	waitFor(t, 2*time.Second, func() bool {
		res, err := b.Obtain(bundle.Options{})
		return err == nil && strings.Contains(res.Code, "CHANGED")
	})
}

func TestReloadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{"name":"app","version":"1.0.0"}`)
	writeFile(t, filepath.Join(dir, "index.js"), `export const x = 1;`)

	f := fs.NewOSFileSystem()
	c := cache.New(t.TempDir())
	p, err := packet.NewRoot(f, nil, c, dir, packet.Options{})
	if err != nil {
		t.Fatalf("NewRoot() error = %v", err)
	}
	if _, err := p.ParseEntry("index.js"); err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}

	w, err := watch.New(p, dir, nil)
	if err != nil {
		t.Fatalf("watch.New() error = %v", err)
	}
	defer w.Close()

	if err := w.Reload("change", "index.js"); err != nil {
		t.Fatalf("first Reload() error = %v", err)
	}
	if err := w.Reload("change", "index.js"); err != nil {
		t.Fatalf("second Reload() error = %v", err)
	}
}
