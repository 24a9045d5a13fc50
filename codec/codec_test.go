package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type document struct {
	Version string   `json:"version"`
	Scales  int      `json:"scales"`
	Seed    int64    `json:"seed"`
	Labels  []string `json:"labels,omitempty"`
}

func TestCodecsInteroperate(t *testing.T) {
	in := document{Version: "1.0", Scales: 3, Seed: -1, Labels: []string{"a"}}

	for _, enc := range []Codec{JSON{}, GoJSON{}} {
		for _, dec := range []Codec{JSON{}, GoJSON{}} {
			t.Run(enc.Name()+"/"+dec.Name(), func(t *testing.T) {
				data, err := enc.Marshal(in)
				require.NoError(t, err)

				var out document
				require.NoError(t, dec.Unmarshal(data, &out))
				assert.Equal(t, in, out)
			})
		}
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		c, ok := ByName(name)
		require.True(t, ok)
		assert.Equal(t, name, c.Name())
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)
	assert.Equal(t, "go-json", Default.Name())
}

func TestUnmarshalError(t *testing.T) {
	var out document
	assert.Error(t, GoJSON{}.Unmarshal([]byte(`{"scales":"three"}`), &out))
}
