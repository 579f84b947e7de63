package codec

import (
	"testing"
	"time"

	"github.com/hupe1980/vecgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName(" Go-JSON ")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)

	assert.Equal(t, []string{"go-json", "json"}, Names())
}

func TestCodecsInteroperate(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := model.Entity{
		ID:             7,
		Name:           "Acme Corp",
		Key:            model.EntityKey("Acme Corp", model.Organization),
		Type:           model.Organization,
		Description:    "makes anvils",
		Embedding:      []float32{0.25, -1},
		SourceChunkIDs: []string{"c1"},
		Contributions:  1,
		Version:        3,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}

	for _, tt := range []struct{ enc, dec Codec }{
		{JSON{}, GoJSON{}},
		{GoJSON{}, JSON{}},
	} {
		t.Run(tt.enc.Name()+"->"+tt.dec.Name(), func(t *testing.T) {
			data, err := tt.enc.Marshal(in)
			require.NoError(t, err)

			var out model.Entity
			require.NoError(t, tt.dec.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}
