package cache_test

import (
	"os"
	"sync"
	"testing"

	"github.com/porterhq/porter/cache"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir)

	if err := c.Write("components/home.js", "hash1", "define(...)", `{"version":3}`); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	code, mapJSON, ok, err := c.Read("components/home.js", "hash1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if code != "define(...)" || mapJSON != `{"version":3}` {
		t.Fatalf("got code=%q map=%q", code, mapJSON)
	}
}

func TestReadMiss(t *testing.T) {
	c := cache.New(t.TempDir())
	_, _, ok, err := c.Read("nope.js", "hash")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if ok {
		t.Fatalf("expected cache miss")
	}
}

func TestConcurrentWritesCoalesce(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Write("x.js", "h", "code", "")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	code, _, ok, err := c.Read("x.js", "h")
	if err != nil || !ok || code != "code" {
		t.Fatalf("got code=%q ok=%v err=%v", code, ok, err)
	}
}

func TestRemoveAllKeeps(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir)

	if err := c.WriteFile("root/app.abc12345.js", []byte("x")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := c.WriteFile("keep-me/app.js", []byte("y")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := c.RemoveAll("keep-me"); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}

	if _, err := os.Stat(dir + "/root"); !os.IsNotExist(err) {
		t.Fatalf("expected root to be removed, err=%v", err)
	}
	if _, err := os.Stat(dir + "/keep-me/app.js"); err != nil {
		t.Fatalf("expected keep-me preserved: %v", err)
	}
}

func TestSourceHashStable(t *testing.T) {
	a := cache.SourceHash("const x = 1;", "fp1")
	b := cache.SourceHash("const x = 1;", "fp1")
	if a != b {
		t.Fatalf("SourceHash not stable: %q != %q", a, b)
	}
	c2 := cache.SourceHash("const x = 1;", "fp2")
	if a == c2 {
		t.Fatalf("SourceHash ignored fingerprint")
	}
}
