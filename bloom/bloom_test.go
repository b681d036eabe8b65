package bloom

import "testing"

func TestNoFalseNegativeAfterAdd(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)

	if f.MightContain([]byte("k")) {
		t.Fatalf("expected absent key to report not-present (probabilistically) before Add")
	}

	f.Add([]byte("k"))

	if !f.MightContain([]byte("k")) {
		t.Fatalf("expected added key to report possibly-present")
	}
}

func TestClearResetsFilter(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)
	f.Add([]byte("k"))

	if !f.MightContain([]byte("k")) {
		t.Fatalf("expected possibly-present before clear")
	}

	f.Clear()

	if f.MightContain([]byte("k")) {
		t.Fatalf("expected not-present after clear")
	}
}

func TestNoFalseNegativesAcrossManyKeys(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)

	keys := make([][]byte, 0, 500)
	for i := 0; i < 500; i++ {
		k := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		keys = append(keys, k)
		f.Add(k)
	}

	for _, k := range keys {
		if !f.MightContain(k) {
			t.Fatalf("false negative for key %v", k)
		}
	}
}

func TestExplicitMK(t *testing.T) {
	f := New(1024, 4)

	if f.M() != 1024 {
		t.Fatalf("expected m=1024, got %d", f.M())
	}
	if f.K() != 4 {
		t.Fatalf("expected k=4, got %d", f.K())
	}

	f.Add([]byte("x"))
	if !f.MightContain([]byte("x")) {
		t.Fatalf("expected added key to be reported present")
	}
}
