package imaging

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestEncodeRoundTrip(t *testing.T) {
	img := newTestImage(t, 12, 9)
	img.setCard("EXPTIME", "339")
	img.setCard("DETECTOR", "WFC")
	img.setCard("PHOTFLAM", "9.9e-20")

	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Width() != 12 || got.Height() != 9 {
		t.Fatalf("dimensions %dx%d, want 12x9", got.Width(), got.Height())
	}
	for _, pos := range [][2]int{{0, 0}, {8, 11}, {4, 7}} {
		if a, b := got.At(pos[0], pos[1]), img.At(pos[0], pos[1]); a != b {
			t.Errorf("At(%d,%d) = %v, want %v", pos[0], pos[1], a, b)
		}
	}

	for key, want := range map[string]string{"EXPTIME": "339", "DETECTOR": "WFC", "OBJECT": "test"} {
		if v, ok := got.Header(key); !ok || v != want {
			t.Errorf("header %s = %q (present %v), want %q", key, v, ok, want)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	img := newTestImage(t, 5, 4)
	path := filepath.Join(t.TempDir(), "out.fits")

	if err := Save(path, img); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.At(3, 4) != 3004 {
		t.Errorf("At(3,4) = %v, want 3004", got.At(3, 4))
	}
}

func TestCutout(t *testing.T) {
	img := newTestImage(t, 20, 10)
	region, err := Extract(img, Range{2, 6}, Range{5, 12})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	cut := region.Cutout()
	if cut.Width() != 7 || cut.Height() != 4 {
		t.Fatalf("cutout %dx%d, want 7x4", cut.Width(), cut.Height())
	}
	if cut.At(0, 0) != 2005 || cut.At(3, 6) != 5011 {
		t.Errorf("unexpected cutout samples %v, %v", cut.At(0, 0), cut.At(3, 6))
	}
	if v, _ := cut.Header("LTV1"); v != "-5" {
		t.Errorf("LTV1 = %q, want -5", v)
	}
	if v, _ := cut.Header("LTV2"); v != "-2" {
		t.Errorf("LTV2 = %q, want -2", v)
	}
	if v, _ := cut.Header("OBJECT"); v != "test" {
		t.Errorf("parent header not carried over, OBJECT = %q", v)
	}
}

func TestCardValue(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"42", 42},
		{"2.5", 2.5},
		{"true", true},
		{"F775W", "F775W"},
	}
	for _, tt := range tests {
		if got := cardValue(tt.in); got != tt.want {
			t.Errorf("cardValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
