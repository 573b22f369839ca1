package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	g := New(0)

	id := g.Generate()
	require.EqualValues(t, 1, id&0xFF)
	require.EqualValues(t, 0, id>>8&0xFF)

	id = g.Generate()
	require.EqualValues(t, 2, id&0xFF)
	require.EqualValues(t, 0, id>>8&0xFF)
}

func TestGenerateSequenceWrap(t *testing.T) {
	g := New(3)
	g.sequence = 0xFF - 1

	id := g.Generate()
	require.EqualValues(t, 0xFF, id&0xFF)
	require.EqualValues(t, 3, id>>8&0xFF)

	id = g.Generate()
	require.EqualValues(t, 0, id&0xFF)
	require.EqualValues(t, 3, id>>8&0xFF)

	id = g.Generate()
	require.EqualValues(t, 1, id&0xFF)
	require.EqualValues(t, 3, id>>8&0xFF)
}

func TestGenerateMonotonicWithinSecond(t *testing.T) {
	fixed := Epoch.Add(42 * time.Second)
	g := New(0)
	g.now = func() time.Time { return fixed }

	prev := g.Generate()
	for i := 0; i < 200; i++ {
		id := g.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestTimestamp(t *testing.T) {
	fixed := Epoch.Add(1234 * time.Second)
	g := New(7)
	g.now = func() time.Time { return fixed }

	id := g.Generate()
	require.Equal(t, fixed, Timestamp(id))
}
