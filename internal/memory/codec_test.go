package memory

import "testing"

func TestEmbeddingEncoding(t *testing.T) {
	original := []float32{0.1, -0.2, 3.5, 0}
	decoded := decodeEmbedding(encodeEmbedding(original))
	if len(decoded) != len(original) {
		t.Fatalf("len = %d, want %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Fatalf("decoded[%d] = %v, want %v", i, decoded[i], original[i])
		}
	}
	if encodeEmbedding(nil) != nil || decodeEmbedding(nil) != nil {
		t.Fatalf("empty vectors should encode to nil")
	}
}

func TestTextSimilarity(t *testing.T) {
	cases := []struct {
		a, b     string
		min, max float64
	}{
		{"", "x", 0, 0},
		{"same", "same", 1, 1},
		{"follow up with Sarah", "follow up with Sarah.", 0.95, 0.99},
		{"contract deadline Friday", "buy oat milk", 0, 0.3},
	}
	for _, tc := range cases {
		got := TextSimilarity(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Fatalf("TextSimilarity(%q, %q) = %v, want [%v,%v]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}
