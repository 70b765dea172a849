package hybridkv

// Codec transforms user-supplied value bytes before they are stored,
// and reverses that transform on read (spec section 6). Encode and
// Decode must be total inverses: Decode(Encode(v)) == v for every v.
// The core never inspects stored bytes beyond length; any structure a
// Codec imposes (compression, encryption) is opaque to WAL, MemTable
// and SSTable.
type Codec interface {
	Encode(value []byte) ([]byte, error)
	Decode(stored []byte) ([]byte, error)
}

// NoneCodec is the identity codec (spec section 6, "the None codec is
// the identity function").
type NoneCodec struct{}

func (NoneCodec) Encode(value []byte) ([]byte, error) { return value, nil }
func (NoneCodec) Decode(stored []byte) ([]byte, error) { return stored, nil }
