package flatfs

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"p2pci/datamodel/document"
)

func TestPutGet(t *testing.T) {
	f, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	mod := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := f.Put(&document.Document{Number: 123, Data: []byte("hello\n"), ModTime: mod}); err != nil {
		t.Fatal(err)
	}

	d, err := f.Get(123)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(d.Data, []byte("hello\n")) {
		t.Fatalf("Data = %q", d.Data)
	}
	if !d.ModTime.Equal(mod) {
		t.Fatalf("ModTime = %v, want %v", d.ModTime, mod)
	}

	if ok, err := f.Has(123); err != nil || !ok {
		t.Fatalf("Has(123) = %t, %v", ok, err)
	}
}

func TestGetMissing(t *testing.T) {
	f, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Get(7); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("Get(7) error = %v, want ErrNotFound", err)
	}
	if ok, err := f.Has(7); err != nil || ok {
		t.Fatalf("Has(7) = %t, %v", ok, err)
	}
}

func TestPutEmptyDocument(t *testing.T) {
	f, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Put(&document.Document{Number: 1}); err != nil {
		t.Fatal(err)
	}
	d, err := f.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Data) != 0 {
		t.Fatalf("Data = %q", d.Data)
	}
}

func TestEnumerateSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{42, 7, 1000} {
		if err := f.Put(&document.Document{Number: n, Data: []byte("x")}); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "RFC5.txt.d"), 0755)

	got, err := f.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{7, 42, 1000}
	if len(got) != len(want) {
		t.Fatalf("Enumerate = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Enumerate = %v, want %v", got, want)
		}
	}

	if err := f.Delete(42); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete(42); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
