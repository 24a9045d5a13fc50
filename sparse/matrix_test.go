package sparse

import (
	"bytes"
	"testing"

	"github.com/hupe1980/hsne/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRows(t *testing.T) {
	m, err := FromRows([][]Entry{
		{{Col: 2, Weight: 1}, {Col: 1, Weight: 2}, {Col: 2, Weight: 3}},
		{},
		{{Col: 0, Weight: 5}},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, m.N())
	assert.Equal(t, 3, m.NNZ())
	assert.Equal(t, []Entry{{Col: 1, Weight: 2}, {Col: 2, Weight: 4}}, m.Row(0))
	assert.Equal(t, float32(4), m.Get(0, 2))
	assert.Equal(t, float32(0), m.Get(1, 0))
	assert.InDelta(t, 11, m.Total(), 1e-9)

	_, err = FromRows([][]Entry{{{Col: 3, Weight: 1}}})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestNormalizeRows(t *testing.T) {
	m, err := FromRows([][]Entry{
		{{Col: 1, Weight: 1}, {Col: 2, Weight: 3}},
		{},
		{{Col: 0, Weight: 0.5}},
	})
	require.NoError(t, err)

	m.NormalizeRows()
	assert.NoError(t, m.CheckRowSums(1, 1e-6))
	assert.Equal(t, float32(0.75), m.Get(0, 2))
	assert.Empty(t, m.Row(1))
}

func TestSymmetrize(t *testing.T) {
	m, err := FromRows([][]Entry{
		{{Col: 1, Weight: 1}},
		{{Col: 2, Weight: 1}},
		{{Col: 0, Weight: 0.5}, {Col: 1, Weight: 0.5}},
	})
	require.NoError(t, err)
	assert.False(t, m.IsSymmetric(1e-9))

	s := m.Symmetrize()
	assert.True(t, s.IsSymmetric(1e-9))
	assert.Equal(t, float32(0.5), s.Get(0, 1))
	assert.Equal(t, float32(0.25), s.Get(0, 2))
	assert.Equal(t, float32(0.75), s.Get(1, 2))
	assert.InDelta(t, m.Total(), s.Total(), 1e-6)
}

func TestTranspose(t *testing.T) {
	m, err := FromRows([][]Entry{
		{{Col: 1, Weight: 2}, {Col: 2, Weight: 3}},
		{{Col: 0, Weight: 4}},
		{},
	})
	require.NoError(t, err)

	tr := m.Transpose()
	assert.Equal(t, float32(4), tr.Get(0, 1))
	assert.Equal(t, float32(2), tr.Get(1, 0))
	assert.Equal(t, float32(3), tr.Get(2, 0))
}

func TestInduced(t *testing.T) {
	m, err := FromRows([][]Entry{
		{{Col: 1, Weight: 1}, {Col: 3, Weight: 1}},
		{{Col: 0, Weight: 1}, {Col: 2, Weight: 1}},
		{{Col: 1, Weight: 1}},
		{{Col: 0, Weight: 1}},
	})
	require.NoError(t, err)

	sub, err := m.Induced([]uint32{3, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.N())
	assert.Equal(t, []Entry{{Col: 1, Weight: 1}}, sub.Row(0))
	assert.Equal(t, []Entry{{Col: 0, Weight: 1}}, sub.Row(1))

	_, err = m.Induced([]uint32{9})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestBuilder(t *testing.T) {
	b := NewBuilder(3)
	b.Add(0, 1, 0.5)
	b.Add(0, 1, 0.5)
	b.Add(0, 2, 2)
	b.Add(2, 0, 0)

	assert.Equal(t, 2, b.RowLen(0))

	m := b.Build()
	assert.Equal(t, float32(1), m.Get(0, 1))
	assert.Equal(t, float32(2), m.Get(0, 2))
	assert.Empty(t, m.Row(2))
	assert.Empty(t, m.Row(1))

	clone := m.Clone()
	clone.Scale(2)
	assert.Equal(t, float32(1), m.Get(0, 1))
	assert.Equal(t, float32(2), clone.Get(0, 1))
}

func TestAddTranspose(t *testing.T) {
	m, err := FromRows([][]Entry{
		{{Col: 1, Weight: 0.25}},
		{{Col: 0, Weight: 0.5}, {Col: 2, Weight: 1}},
		{},
	})
	require.NoError(t, err)

	s := m.AddTranspose()
	assert.True(t, s.IsSymmetric(0))
	assert.Equal(t, float32(0.75), s.Get(0, 1))
	assert.Equal(t, float32(1), s.Get(2, 1))
	assert.Len(t, s.Row(2), 1)
}

func TestEncodeDecode(t *testing.T) {
	m, err := FromRows([][]Entry{
		{{Col: 1, Weight: 0.25}, {Col: 2, Weight: 0.75}},
		{},
		{{Col: 0, Weight: 1}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)
	m.Encode(w)
	require.NoError(t, w.Err())

	got, err := Decode(persistence.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, m.N(), got.N())
	for i := 0; i < m.N(); i++ {
		assert.Equal(t, m.Row(i), got.Row(i))
	}

	_, err = Decode(persistence.NewReader(buf.Bytes()[:buf.Len()-3]))
	assert.ErrorIs(t, err, persistence.ErrTruncated)
}
