// Package audio reads the partials published by the external audio monitor and
// reduces them to per-string voice counts and amplitude sums.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/calvinmclean/stringdriver"
)

// DefaultPartials is assumed when neither the control file nor the file size
// says how many partials each channel has
const DefaultPartials = 12

// each partial is a float32 frequency and a float32 amplitude
const partialSize = 8

var ErrNoData = errors.New("no audio data")

// Partial is one detected peak
type Partial struct {
	Freq float32
	Amp  float32
}

func sharedDir() string {
	if runtime.GOOS == "linux" {
		return "/dev/shm"
	}
	return "/tmp"
}

func DefaultPeaksPath() string {
	return filepath.Join(sharedDir(), "audio_peaks")
}

func DefaultControlPath() string {
	return filepath.Join(sharedDir(), "audio_control")
}

// Reader reads the peaks file, laid out channel by channel, and the control
// file holding the writer's pid, channel count and partials per channel on
// separate lines
type Reader struct {
	PeaksPath   string
	ControlPath string
	// Channels is how many channels to read at most, normally the string count
	Channels int
	// ByteOrder of the peaks file, which the writer produces in host order
	ByteOrder binary.ByteOrder
}

func NewReader(channels int) Reader {
	return Reader{
		PeaksPath:   DefaultPeaksPath(),
		ControlPath: DefaultControlPath(),
		Channels:    channels,
		ByteOrder:   binary.NativeEndian,
	}
}

// control returns the channel and partial counts from the control file
func (r Reader) control() (int, int, error) {
	data, err := os.ReadFile(r.ControlPath)
	if err != nil {
		return 0, 0, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 3 {
		return 0, 0, fmt.Errorf("control file has %d lines, expected 3", len(lines))
	}

	channels, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing channel count: %w", err)
	}
	partials, err := strconv.Atoi(strings.TrimSpace(lines[2]))
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing partial count: %w", err)
	}
	return channels, partials, nil
}

// ReadPartials returns the partials of each channel that has complete data
func (r Reader) ReadPartials() ([][]Partial, error) {
	data, err := os.ReadFile(r.PeaksPath)
	if err != nil {
		return nil, fmt.Errorf("error reading peaks: %w", err)
	}

	order := r.ByteOrder
	if order == nil {
		order = binary.NativeEndian
	}

	channels, perChannel, err := r.control()
	if err != nil {
		// without a control file, assume the requested channels fill the file
		channels = r.Channels
		perChannel = 0
		if r.Channels > 0 {
			perChannel = len(data) / partialSize / r.Channels
		}
	}
	if perChannel <= 0 {
		perChannel = DefaultPartials
	}
	channels = min(channels, r.Channels)

	channelSize := perChannel * partialSize
	var partials [][]Partial
	for ch := range channels {
		offset := ch * channelSize
		if offset+channelSize > len(data) {
			break
		}

		peaks := make([]Partial, perChannel)
		for i := range peaks {
			p := data[offset+i*partialSize:]
			peaks[i] = Partial{
				Freq: math.Float32frombits(order.Uint32(p[0:4])),
				Amp:  math.Float32frombits(order.Uint32(p[4:8])),
			}
		}
		partials = append(partials, peaks)
	}

	if len(partials) == 0 {
		return nil, ErrNoData
	}
	return partials, nil
}

// Analyze counts the sounding partials and sums their amplitudes per channel
func Analyze(partials [][]Partial) stringdriver.AudioSnapshot {
	snap := stringdriver.AudioSnapshot{
		VoiceCount: make([]int, len(partials)),
		AmpSum:     make([]float64, len(partials)),
	}
	for ch, peaks := range partials {
		for _, p := range peaks {
			if p.Amp > 0 {
				snap.VoiceCount[ch]++
			}
			snap.AmpSum[ch] += float64(p.Amp)
		}
	}
	return snap
}
