package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTemp(t)
	if _, found, err := s.GetText("missing"); err != nil || found {
		t.Fatalf("miss: found=%v err=%v", found, err)
	}
	if err := s.PutText("k1", "TNB MONTHLY BILL"); err != nil {
		t.Fatalf("PutText: %v", err)
	}
	text, found, err := s.GetText("k1")
	if err != nil || !found || text != "TNB MONTHLY BILL" {
		t.Fatalf("got %q found=%v err=%v", text, found, err)
	}
}

func TestPutOverwrites(t *testing.T) {
	s := openTemp(t)
	s.PutText("k", "old")
	s.PutText("k", "new")
	text, _, _ := s.GetText("k")
	if text != "new" {
		t.Fatalf("text = %q", text)
	}
}

func TestFileKeyTracksContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pdf")
	b := filepath.Join(dir, "b.pdf")
	os.WriteFile(a, []byte("same bytes"), 0o644)
	os.WriteFile(b, []byte("same bytes"), 0o644)

	ka, err := FileKey(a)
	if err != nil {
		t.Fatalf("FileKey: %v", err)
	}
	kb, _ := FileKey(b)
	if ka != kb {
		t.Fatal("identical content must share a key")
	}
	os.WriteFile(b, []byte("different"), 0o644)
	kb2, _ := FileKey(b)
	if kb2 == ka {
		t.Fatal("changed content must change the key")
	}
	if len(ka) != 64 {
		t.Fatalf("key length = %d", len(ka))
	}
}
