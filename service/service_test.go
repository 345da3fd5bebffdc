package service

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFSBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.bin")
	if err := os.WriteFile(path, []byte("hello vidformer"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry()
	desc := Descriptor{Service: "fs"}

	sz, err := reg.Size(desc, path)
	if err != nil {
		t.Fatal(err)
	}
	if sz != int64(len("hello vidformer")) {
		t.Errorf("Size() = %d", sz)
	}

	rd, err := reg.Open(desc, path)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()

	buf, err := io.ReadAll(rd)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello vidformer" {
		t.Errorf("read %q", buf)
	}
}

func TestFSBackendMissing(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Size(Descriptor{Service: "fs"}, "/no/such/file")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestUnknownService(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Open(Descriptor{Service: "s3"}, "x")
	if err == nil {
		t.Fatal("expected error for unknown service")
	}
}
