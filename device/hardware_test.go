package device_test

import (
	"context"
	"os"
	"testing"

	"github.com/calvinmclean/stringdriver"
	"github.com/calvinmclean/stringdriver/device"
	"github.com/calvinmclean/stringdriver/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHardwarePositions talks to a real board, e.g.
// STRINGDRIVER_TEST_PORT=/dev/ttyACM0 go test ./device. The board needs at least 4 steppers.
func TestHardwarePositions(t *testing.T) {
	port := os.Getenv("STRINGDRIVER_TEST_PORT")
	if port == "" {
		t.Skip("STRINGDRIVER_TEST_PORT not set")
	}

	tr := device.New(device.DefaultConfig(port), device.WithEvictor(device.NoEviction()))
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	cmds := stringdriver.FirmwareV2.CommandSet()

	tests := []struct {
		name  string
		count int
	}{
		{"OnePosition", 1},
		{"AllPositions", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tr.ClearInput())
			require.NoError(t, tr.Write(protocol.EncodeQuery(cmds.Positions)))

			frame, err := tr.ReadUntilTerminator(0)
			require.NoError(t, err)

			positions, err := protocol.DecodePositions(frame, tt.count)
			require.NoError(t, err)
			assert.Len(t, positions, tt.count)
		})
	}
}
