package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/knoguchi/ingestcore/internal/ingesterr"
)

func TestFileStorageRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStorage(dir)

	paths := DocumentPaths{Owner: "acme", DocumentID: "doc-1"}
	content := []byte("# Hello\n\nworld\n")

	if err := s.Upload(context.Background(), paths.ContentMD(), content); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := s.Download(context.Background(), paths.ContentMD())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("round-trip mismatch: got %q, want %q", got, content)
	}
}

func TestFileStorageDownloadMissingReturnsNotExist(t *testing.T) {
	s := NewFileStorage(t.TempDir())
	_, err := s.Download(context.Background(), "nope.json")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestMarshalCanonicalSortsKeysAndAddsTrailingNewline(t *testing.T) {
	type inner struct {
		Zeta  string `json:"zeta"`
		Alpha int    `json:"alpha"`
	}
	v := struct {
		B string `json:"b"`
		A inner  `json:"a"`
	}{B: "x", A: inner{Zeta: "z", Alpha: 1}}

	out, err := MarshalCanonical(v)
	if err != nil {
		t.Fatalf("MarshalCanonical: %v", err)
	}
	want := `{"a":{"alpha":1,"zeta":"z"},"b":"x"}` + "\n"
	if string(out) != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestCheckManifestVersionAcceptsSupportedMajor(t *testing.T) {
	m := &Manifest{Version: "1.3"}
	if err := CheckManifestVersion(m); err != nil {
		t.Errorf("expected supported major to pass, got %v", err)
	}
}

func TestCheckManifestVersionRejectsUnsupportedMajor(t *testing.T) {
	m := &Manifest{Version: "2.0"}
	err := CheckManifestVersion(m)
	if !errors.Is(err, ingesterr.ErrUnsupportedManifestVersion) {
		t.Errorf("expected ErrUnsupportedManifestVersion, got %v", err)
	}
}
