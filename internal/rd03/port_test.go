package rd03

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptionsDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)

	assert.Equal(t, 256000, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)
	assert.Equal(t, 1, opts.StopBits)
	assert.Equal(t, "N", opts.Parity)
}

func TestPortOptionsValidation(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"data bits too low", PortOptions{DataBits: 4}},
		{"data bits too high", PortOptions{DataBits: 9}},
		{"bad stop bits", PortOptions{StopBits: 3}},
		{"bad parity", PortOptions{Parity: "X"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.opts.Normalize()
			assert.Error(t, err)
		})
	}
}

func TestPortOptionsParityAliases(t *testing.T) {
	for _, in := range []string{"none", "N", " n "} {
		opts, err := PortOptions{Parity: in}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, "N", opts.Parity)
	}

	opts, err := PortOptions{Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)
}

func TestSerialMode(t *testing.T) {
	mode, err := PortOptions{Parity: "odd"}.SerialMode()
	require.NoError(t, err)

	assert.Equal(t, 256000, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	_, err = PortOptions{DataBits: 12}.SerialMode()
	assert.Error(t, err)
}
