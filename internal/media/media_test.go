package media

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// mp4Header is the start of an ISO base media file.
var mp4Header = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2', 0, 0, 0, 0, 'm', 'p', '4', '2', 'i', 's', 'o', 'm'}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestGuessKind(t *testing.T) {
	tests := []struct {
		locator string
		want    Kind
		ok      bool
	}{
		{"/videos/beach.mp4", KindVideo, true},
		{"file:///videos/Forest.MOV", KindVideo, true},
		{"/pics/sunset.jpeg", KindImage, true},
		{"/notes/readme.txt", "", false},
		{"/noext", "", false},
	}
	for _, tt := range tests {
		got, ok := GuessKind(tt.locator)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("GuessKind(%q) = %q,%v want %q,%v", tt.locator, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDescriptorValidate(t *testing.T) {
	valid := Descriptor{Kind: KindVideo, Locator: "/v/beach.mp4", Volume: Volume(0.5)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid descriptor, got %v", err)
	}

	bad := []Descriptor{
		{Kind: KindVideo},
		{Kind: "audio", Locator: "/a.mp3"},
		{Kind: KindVideo, Locator: "/v.mp4", Volume: func() *float64 { v := 1.5; return &v }()},
	}
	for i, d := range bad {
		if err := d.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestDescriptorNameAndClone(t *testing.T) {
	d := Descriptor{Kind: KindVideo, Locator: "file:///home/me/Videos/beach.mp4", Volume: Volume(0.3)}
	if d.Name() != "beach.mp4" {
		t.Fatalf("Name() = %q", d.Name())
	}
	c := d.Clone()
	*c.Volume = 0.9
	if *d.Volume != 0.3 {
		t.Fatal("Clone must not share the volume pointer")
	}
}

func TestLoaderCachesSmallFiles(t *testing.T) {
	path := writeFile(t, "beach.mp4", mp4Header)
	l := NewLoader(1024, 4)

	res, err := l.Load(Descriptor{Kind: KindVideo, Locator: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Direct {
		t.Fatal("small file should not be direct-play")
	}
	if l.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", l.Len())
	}
	if _, err := l.Load(Descriptor{Kind: KindVideo, Locator: path}); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("cache len after reload = %d, want 1", l.Len())
	}
}

func TestLoaderRoutesLargeFilesToDirectPlay(t *testing.T) {
	data := append([]byte(nil), mp4Header...)
	data = append(data, make([]byte, 4096)...)
	path := writeFile(t, "big.mp4", data)
	l := NewLoader(1024, 4)

	res, err := l.Load(Descriptor{Kind: KindVideo, Locator: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !res.Direct {
		t.Fatal("large file should be direct-play")
	}
	if l.Len() != 0 {
		t.Fatalf("direct-play files must not be cached, len = %d", l.Len())
	}
}

func TestLoaderEvictsOldest(t *testing.T) {
	l := NewLoader(1024, 2)
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		p := writeFile(t, name, mp4Header)
		if _, err := l.Load(Descriptor{Kind: KindVideo, Locator: p}); err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
	}
	if l.Len() != 2 {
		t.Fatalf("cache len = %d, want 2", l.Len())
	}
}

func TestLoaderErrors(t *testing.T) {
	l := NewLoader(0, 0)

	_, err := l.Load(Descriptor{Kind: KindVideo, Locator: filepath.Join(t.TempDir(), "missing.mp4")})
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("missing file: got %v, want ErrUnreadable", err)
	}

	text := writeFile(t, "notes.mp4", []byte("hello, this is plain text\n"))
	_, err = l.Load(Descriptor{Kind: KindVideo, Locator: text})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("text file: got %v, want ErrUnsupported", err)
	}

	empty := writeFile(t, "empty.mp4", nil)
	_, err = l.Load(Descriptor{Kind: KindVideo, Locator: empty})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("empty file: got %v, want ErrUnsupported", err)
	}
}
