package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigPins(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		pins     []int
		expected int
	}{
		{"TouchOnly", Config{TouchPins: []int{17, 27}, HomePin: -1, AwayPin: -1}, []int{17, 27}, 27},
		{"WithLimits", Config{TouchPins: []int{4}, HomePin: 22, AwayPin: 5}, []int{4, 22, 5}, 22},
		{"Nothing", Config{HomePin: -1, AwayPin: -1}, nil, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.pins, tt.cfg.pins())
			assert.Equal(t, tt.expected, tt.cfg.maxPin())
		})
	}
}
