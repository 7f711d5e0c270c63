package cook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	fp1, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	fp2, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if fp1 != fp2 {
		t.Errorf("Fingerprint not deterministic: %q vs %q", fp1, fp2)
	}

	if err := os.WriteFile(path, []byte("hello there"), 0o644); err != nil {
		t.Fatal(err)
	}
	fp3, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if fp3 == fp1 {
		t.Error("Fingerprint did not change after content changed")
	}
}

func TestFingerprintBytesMatchesSameContent(t *testing.T) {
	a := FingerprintBytes([]byte("foo"))
	b := FingerprintBytes([]byte("foo"))
	c := FingerprintBytes([]byte("bar"))
	if a != b {
		t.Error("FingerprintBytes not stable for identical input")
	}
	if a == c {
		t.Error("FingerprintBytes collided for different input")
	}
}

func TestFingerprintStoreUpdateAndLookup(t *testing.T) {
	dir := t.TempDir()
	s := NewFingerprintStore(dir)
	path := filepath.Join(dir, "out.o")
	mtime := time.Now()

	s.Update(path, mtime, "cfp-1")
	rec, ok := s.Lookup(path)
	if !ok {
		t.Fatal("Lookup did not find the record just updated")
	}
	if rec.Contents != "cfp-1" {
		t.Errorf("Contents = %q, want cfp-1", rec.Contents)
	}
	if !rec.Oldest.Equal(rec.Newest) {
		t.Errorf("Oldest/Newest should coincide on first Update: %v vs %v", rec.Oldest, rec.Newest)
	}
}

func TestFingerprintStoreUpdateSameContentKeepsOldest(t *testing.T) {
	dir := t.TempDir()
	s := NewFingerprintStore(dir)
	path := filepath.Join(dir, "out.o")

	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	s.Update(path, t0, "same-cfp")
	before, _ := s.Lookup(path)

	t1 := time.Now().Truncate(time.Second)
	s.Update(path, t1, "same-cfp")
	after, _ := s.Lookup(path)

	if !after.Oldest.Equal(before.Oldest) {
		t.Errorf("Oldest moved despite unchanged content fingerprint: %v -> %v", before.Oldest, after.Oldest)
	}
}

func TestFingerprintStoreUpdateChangedContentResetsBothTimes(t *testing.T) {
	dir := t.TempDir()
	s := NewFingerprintStore(dir)
	path := filepath.Join(dir, "out.o")

	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	s.Update(path, t0, "cfp-a")

	t1 := time.Now().Truncate(time.Second)
	s.Update(path, t1, "cfp-b")
	rec, _ := s.Lookup(path)

	if !rec.Newest.Equal(t1) {
		t.Errorf("Newest = %v, want %v", rec.Newest, t1)
	}
	if !rec.Oldest.Equal(t1) {
		t.Errorf("Oldest = %v, want %v (new content is a new file version)", rec.Oldest, t1)
	}
	if rec.Contents != "cfp-b" {
		t.Errorf("Contents = %q, want cfp-b", rec.Contents)
	}
}

func TestFingerprintStoreUpdateClampsOldestWhenFileHeadsIntoPast(t *testing.T) {
	dir := t.TempDir()
	s := NewFingerprintStore(dir)
	path := filepath.Join(dir, "out.o")

	t0 := time.Now().Truncate(time.Second)
	s.Update(path, t0, "same-cfp")

	tPast := t0.Add(-2 * time.Hour)
	s.Update(path, tPast, "same-cfp")
	rec, _ := s.Lookup(path)

	if !rec.Oldest.Equal(tPast) {
		t.Errorf("Oldest = %v, want %v", rec.Oldest, tPast)
	}
	if !rec.Newest.Equal(tPast) {
		t.Errorf("Newest = %v, want %v", rec.Newest, tPast)
	}
}

func TestFingerprintStoreUpdateIngredientsDoesNotAffectContents(t *testing.T) {
	dir := t.TempDir()
	s := NewFingerprintStore(dir)
	path := filepath.Join(dir, "out.o")
	s.Update(path, time.Now(), "cfp-1")

	s.UpdateIngredients(path, "ifp-1")
	rec, _ := s.Lookup(path)
	if rec.Ingredients != "ifp-1" {
		t.Errorf("Ingredients = %q, want ifp-1", rec.Ingredients)
	}
	if rec.Contents != "cfp-1" {
		t.Errorf("Contents changed by UpdateIngredients: %q", rec.Contents)
	}
}

func TestFingerprintStoreClear(t *testing.T) {
	dir := t.TempDir()
	s := NewFingerprintStore(dir)
	path := filepath.Join(dir, "out.o")
	s.Update(path, time.Now(), "cfp-1")

	s.Clear(path)
	if _, ok := s.Lookup(path); ok {
		t.Error("Lookup still found a record after Clear")
	}
}

func TestFingerprintStoreFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	s := NewFingerprintStore(dir)
	path := filepath.Join(dir, "out.o")
	mtime := time.Now().Truncate(time.Second)
	s.Update(path, mtime, "cfp-1")
	s.UpdateIngredients(path, "ifp-1")

	require.NoError(t, s.Flush())

	_, err := os.Stat(filepath.Join(dir, CacheFileName))
	require.NoError(t, err, "cache file not written")

	reloaded := NewFingerprintStore(dir)
	rec, ok := reloaded.Lookup(path)
	require.True(t, ok, "reloaded store did not find the persisted record")
	require.Equal(t, "cfp-1", rec.Contents)
	require.Equal(t, "ifp-1", rec.Ingredients)
	require.Equal(t, mtime.Unix(), rec.Newest.Unix())
}

func TestFingerprintStoreMarkUnwritableRedirectsToTop(t *testing.T) {
	top := t.TempDir()
	sub := filepath.Join(top, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewFingerprintStore(top)
	s.MarkUnwritable(sub)

	path := filepath.Join(sub, "out.o")
	s.Update(path, time.Now(), "cfp-1")

	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(sub, CacheFileName)); err == nil {
		t.Error("a cache file was written in the unwritable directory")
	}
	if _, err := os.Stat(filepath.Join(top, CacheFileName)); err != nil {
		t.Errorf("top-level cache file not written: %v", err)
	}

	rec, ok := s.Lookup(path)
	if !ok || rec.Contents != "cfp-1" {
		t.Errorf("Lookup after redirect = %+v, %v", rec, ok)
	}
}

func TestFingerprintStoreMarkWritableUndoesRedirect(t *testing.T) {
	top := t.TempDir()
	sub := filepath.Join(top, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewFingerprintStore(top)
	s.MarkUnwritable(sub)
	s.MarkWritable(sub)

	path := filepath.Join(sub, "out.o")
	s.Update(path, time.Now(), "cfp-1")
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(sub, CacheFileName)); err != nil {
		t.Errorf("directory cache not written after MarkWritable reverted the redirect: %v", err)
	}
}
