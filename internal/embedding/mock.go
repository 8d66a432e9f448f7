package embedding

import (
	"context"
	"hash/fnv"
)

// MockEncoder is a deterministic in-memory Encoder for tests. Vectors are
// derived from a hash of the text, so the same text always maps to the same
// unit vector and different texts almost always differ.
type MockEncoder struct {
	Dim   int
	Err   error      // returned by every call when set
	Calls [][]string // batches seen, in order
}

// NewMockEncoder returns a mock producing vectors of the given width.
func NewMockEncoder(dim int) *MockEncoder {
	return &MockEncoder{Dim: dim}
}

func (m *MockEncoder) Dimension() int {
	return m.Dim
}

func (m *MockEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *MockEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls = append(m.Calls, append([]string(nil), texts...))
	if m.Err != nil {
		return nil, m.Err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, m.Dim)
		for j := range v {
			h := fnv.New32a()
			h.Write([]byte(text))
			h.Write([]byte{byte(j)})
			// Spread hash values into [-1, 1).
			v[j] = float32(int32(h.Sum32())) / float32(1<<31)
		}
		vecs[i] = Normalize(v)
	}
	return vecs, nil
}

var _ Encoder = (*MockEncoder)(nil)
