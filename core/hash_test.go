package core

import "testing"

func TestMakeThreshold(t *testing.T) {
	tests := []struct {
		difficulty uint8
		want       string
	}{
		{3, "7"},
		{5, "1f"},
		{4, "f"},
		{0, ""},
	}
	for _, tt := range tests {
		if got := makeThreshold(tt.difficulty); got != tt.want {
			t.Errorf("makeThreshold(%d) = %q, want %q", tt.difficulty, got, tt.want)
		}
	}
}

func TestSolveAndVerifyWork(t *testing.T) {
	msg := []byte("node-hash0")
	for _, d := range []uint8{0, 1, 4, 8} {
		nonce, err := SolveWork(msg, d)
		if err != nil {
			t.Fatalf("difficulty %d: %v", d, err)
		}
		if !VerifyWork(msg, nonce, d) {
			t.Errorf("difficulty %d: VerifyWork rejected solved nonce", d)
		}
	}
}

func TestVerifyWorkRejectsWrongNonce(t *testing.T) {
	msg := []byte("node-hash0")
	var wrong [8]byte
	if VerifyWork(msg, wrong, 32) {
		t.Error("zero nonce should essentially never satisfy a high difficulty")
	}
}

func TestIncNonceWraps(t *testing.T) {
	n := [8]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if incNonce(&n) {
		t.Error("expected wraparound to report exhaustion")
	}
}

func TestBlake2b256Deterministic(t *testing.T) {
	a := Blake2b256([]byte("x"), uint64(7))
	b := Blake2b256([]byte("x"), uint64(7))
	if a != b {
		t.Error("Blake2b256 should be deterministic for identical inputs")
	}
	c := Blake2b256([]byte("x"), uint64(8))
	if a == c {
		t.Error("Blake2b256 should differ for different inputs")
	}
}
