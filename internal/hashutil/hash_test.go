package hashutil

import "testing"

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestDerivativeStoragePath(t *testing.T) {
	hash := "abcdef0123456789"
	got := DerivativeStoragePath(hash, "thumb")
	want := "derivatives/ab/abcdef0123456789/thumb.webp"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
