package randomness

import (
	"encoding/json"
	"testing"
)

func TestRandomStableWithinBlock(t *testing.T) {
	src := NewBlockSource(Entropy{1, 2, 3}, 1)
	a := src.Random([]byte("subject"))
	if b := src.Random([]byte("subject")); a != b {
		t.Fatalf("expected identical values within a block")
	}
	if c := src.Random([]byte("other")); c == a {
		t.Fatalf("expected subject to separate values")
	}
}

func TestAdvanceRatchetsEntropy(t *testing.T) {
	src := NewBlockSource(Entropy{9}, 1)
	before := src.Random([]byte("s"))
	if block := src.Advance(); block != 2 {
		t.Fatalf("expected block 2, got %d", block)
	}
	if after := src.Random([]byte("s")); after == before {
		t.Fatalf("expected new entropy after advancing")
	}

	replay := NewBlockSource(Entropy{9}, 1)
	replay.Advance()
	_, e1 := src.State()
	_, e2 := replay.State()
	if e1 != e2 {
		t.Fatalf("expected deterministic ratchet")
	}
}

func TestEntropyTextRoundTrip(t *testing.T) {
	seed, err := NewSeed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	data, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Entropy
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != seed {
		t.Fatalf("round trip mismatch")
	}
	if err := decoded.UnmarshalText([]byte("short")); err == nil {
		t.Fatalf("expected length error")
	}
}
