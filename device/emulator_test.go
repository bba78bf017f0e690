package device

import (
	"testing"

	"github.com/calvinmclean/stringdriver"
	"github.com/calvinmclean/stringdriver/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmulator(t *testing.T) {
	cmds := stringdriver.FirmwareV2.CommandSet()
	e := NewEmulator(3, cmds, nil)

	require.NoError(t, e.Write(protocol.Encode(cmds.RelMove, 1, 10)))
	require.NoError(t, e.Write(protocol.Encode(cmds.RelMove, 1, -3)))
	require.NoError(t, e.Write(protocol.Encode(cmds.AbsMove, 0, 44)))
	require.NoError(t, e.Write(protocol.Encode(cmds.SetStepper, 2, 100)))
	require.NoError(t, e.Write(protocol.Encode(cmds.SetSpeed, 2, 500)))
	require.NoError(t, e.Write([]byte("garbage")))

	assert.Equal(t, []int32{44, 7, 100}, e.Positions())
	assert.Len(t, e.Frames(), 6)

	speed, ok := e.Param(2, cmds.SetSpeed)
	assert.True(t, ok)
	assert.Equal(t, int32(500), speed)

	_, err := e.ReadUntilTerminator(0)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, e.Write(protocol.EncodeQuery(cmds.Positions)))
	frame, err := e.ReadUntilTerminator(0)
	require.NoError(t, err)

	positions, err := protocol.DecodePositions(frame, 3)
	require.NoError(t, err)
	assert.Equal(t, []int32{44, 7, 100}, positions)

	require.NoError(t, e.Write(protocol.EncodeQuery(cmds.Positions)))
	require.NoError(t, e.ClearInput())
	_, err = e.ReadUntilTerminator(0)
	assert.ErrorIs(t, err, ErrTimeout)
}
