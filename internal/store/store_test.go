package store

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer s.Close()

	if err := s.Put("greeting", "hello"); err != nil {
		t.Fatalf("Put: %s", err)
	}
	v, ok, err := s.Get("greeting")
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if !ok || v != "hello" {
		t.Errorf("got (%q, %v), want (\"hello\", true)", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer s.Close()

	_, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if ok {
		t.Error("expected ok=false for a missing key")
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer s.Close()

	s.Put("k", "first")
	s.Put("k", "second")
	v, _, _ := s.Get("k")
	if v != "second" {
		t.Errorf("got %q, want %q after overwrite", v, "second")
	}
}
