package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedMapReadWrite(t *testing.T) {
	m, err := NewSharedMap(4096)
	require.NoError(t, err)
	defer m.Close()

	buf := m.Bytes()
	require.Len(t, buf, 4096)
	buf[0] = 0x42
	assert.Equal(t, byte(0x42), m.Bytes()[0])
}
