package codec

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/flashkv/flashkv/kverr"
)

func TestWriteReadRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		key   []byte
		value []byte
	}{
		{"small", []byte("a"), []byte("b")},
		{"empty value", []byte("k"), []byte{}},
		{"binary", []byte{0, 1, 2, 3}, []byte{9, 8, 7}},
		{"large", bytes.Repeat([]byte("k"), 1024), bytes.Repeat([]byte("v"), 2048)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, tt.key, tt.value); err != nil {
				t.Fatal(err)
			}

			gotKey, gotValue, err := Read(&buf)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if !bytes.Equal(gotKey, tt.key) || !bytes.Equal(gotValue, tt.value) {
				t.Fatalf("mismatch: got (%q,%q), want (%q,%q)", gotKey, gotValue, tt.key, tt.value)
			}

			if _, _, err := Read(&buf); err != io.EOF {
				t.Fatalf("expected io.EOF after consuming the only record, got %v", err)
			}
		})
	}
}

func TestReadMultipleRecords(t *testing.T) {
	var buf bytes.Buffer
	records := [][2][]byte{
		{[]byte("a"), []byte("1")},
		{[]byte("b"), []byte("2")},
		{[]byte("c"), []byte("3")},
	}

	for _, r := range records {
		if err := Write(&buf, r[0], r[1]); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range records {
		k, v, err := Read(&buf)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if !bytes.Equal(k, want[0]) || !bytes.Equal(v, want[1]) {
			t.Fatalf("record %d mismatch", i)
		}
	}

	if _, _, err := Read(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadDetectsTornWrite(t *testing.T) {
	var full bytes.Buffer
	if err := Write(&full, []byte("key"), []byte("value")); err != nil {
		t.Fatal(err)
	}

	complete := full.Bytes()
	for i := 1; i < len(complete); i++ {
		torn := bytes.NewReader(complete[:i])
		if _, _, err := Read(torn); !errors.Is(err, kverr.ErrCorrupt) {
			t.Fatalf("truncated at %d: expected ErrCorrupt, got %v", i, err)
		}
	}
}

func TestReadCleanEOFAtBoundary(t *testing.T) {
	empty := bytes.NewReader(nil)
	if _, _, err := Read(empty); err != io.EOF {
		t.Fatalf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestCanRead(t *testing.T) {
	f, err := os.CreateTemp("", "codec-canread-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := Write(f, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	ok, err := CanRead(f)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected CanRead true at start of a non-empty file")
	}

	if _, _, err := Read(f); err != nil {
		t.Fatal(err)
	}

	ok, err = CanRead(f)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected CanRead false after consuming the only record")
	}
}
