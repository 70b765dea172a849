package hybridkv

import "testing"

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(100, DefaultBloomFilterBits)
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma"), []byte("delta")}
	for _, k := range keys {
		bf.Add(k)
	}
	for _, k := range keys {
		if !bf.Contains(k) {
			t.Fatalf("bloom filter reported a false negative for %q", k)
		}
	}
}

func TestBloomFilterMarshalRoundTrip(t *testing.T) {
	bf := NewBloomFilter(50, DefaultBloomFilterBits)
	bf.Add([]byte("present"))

	data := bf.Marshal()
	bf2 := UnmarshalBloomFilter(data)

	if !bf2.Contains([]byte("present")) {
		t.Fatalf("expected reloaded bloom filter to still contain the added key")
	}
}

func TestBloomFilterAbsentKeyUsuallyNotContained(t *testing.T) {
	bf := NewBloomFilter(1000, DefaultBloomFilterBits)
	bf.Add([]byte("only-this-one"))
	if bf.Contains([]byte("definitely-not-added")) {
		t.Fatalf("expected a well-sized filter to reject an unrelated key")
	}
}
