// Package config loads runtime configuration from STRINGDRIVER_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/calvinmclean/stringdriver"
	"github.com/calvinmclean/stringdriver/audio"
	"github.com/calvinmclean/stringdriver/controller"
	"github.com/calvinmclean/stringdriver/gpio"
)

const prefix = "STRINGDRIVER_"

type Config struct {
	// Serial device
	Port     string
	BaudRate int
	Firmware stringdriver.Firmware

	Layout     controller.Layout
	Settings   controller.Settings
	Thresholds controller.Thresholds

	// Periodic bump check run by serve
	BumpInterval time.Duration
	BumpEnabled  bool

	// GPIO is only opened when UseGPIO is set
	UseGPIO bool
	GPIO    gpio.Config

	// Audio monitor output
	AudioPeaksPath   string
	AudioControlPath string
	AudioInterval    time.Duration

	// TWChart reporting is off when TWChartAddr is empty
	TWChartAddr    string
	TWChartSession string
	TWChartLabels  string

	LogLevel slog.Level
}

// Load reads configuration from the environment. Unset variables take their
// default, set variables that cannot be parsed are an error.
func Load() (Config, error) {
	l := &loader{}

	firmware, err := stringdriver.ParseFirmware(envStr("FIRMWARE", "v2"))
	if err != nil {
		l.fail("FIRMWARE", err)
	}

	layout := controller.Layout{
		NumSteppers:     l.envInt("NUM_STEPPERS", 5),
		XIndex:          l.envInt("X_INDEX", 4),
		XMaxPos:         l.envInt32("X_MAX_POS", 0),
		ZFirstIndex:     l.envInt("Z_FIRST_INDEX", 0),
		StringNum:       l.envInt("STRING_NUM", 2),
		TunerFirstIndex: l.envInt("TUNER_FIRST_INDEX", 0),
		TunerCount:      l.envInt("TUNER_COUNT", 0),
	}

	defaults := controller.DefaultSettings()
	settings := controller.Settings{
		UpStep:          l.envInt32("UP_STEP", defaults.UpStep),
		DownStep:        l.envInt32("DOWN_STEP", defaults.DownStep),
		ZRest:           l.envDuration("Z_REST", defaults.ZRest),
		LapRest:         l.envDuration("LAP_REST", defaults.LapRest),
		XRest:           l.envDuration("X_REST", defaults.XRest),
		XStep:           l.envInt32("X_STEP", defaults.XStep),
		ZMin:            l.envInt32("Z_MIN", defaults.ZMin),
		DefaultZMax:     l.envInt32("Z_MAX", defaults.DefaultZMax),
		ZMax:            l.envAxisMap("Z_MAX_AXES"),
		BumpIterations:  l.envInt("BUMP_ITERATIONS", defaults.BumpIterations),
		ClearIterations: l.envInt("CLEAR_ITERATIONS", defaults.ClearIterations),
		XIterations:     l.envInt("X_ITERATIONS", defaults.XIterations),
	}

	thresholds := controller.DefaultThresholds(layout.StringNum)
	thresholds.AmpSumMin = l.envFloats("AMP_SUM_MIN", thresholds.AmpSumMin)
	thresholds.AmpSumMax = l.envFloats("AMP_SUM_MAX", thresholds.AmpSumMax)
	thresholds.VoiceMin = l.envInts("VOICE_MIN", thresholds.VoiceMin)
	thresholds.VoiceMax = l.envInts("VOICE_MAX", thresholds.VoiceMax)

	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(envStr("LOG_LEVEL", "info"))); err != nil {
		l.fail("LOG_LEVEL", err)
	}

	cfg := Config{
		Port:     envStr("PORT", "/dev/ttyACM0"),
		BaudRate: l.envInt("BAUD", stringdriver.DefaultBaudRate),
		Firmware: firmware,

		Layout:     layout,
		Settings:   settings,
		Thresholds: thresholds,

		BumpInterval: l.envDuration("BUMP_INTERVAL", 30*time.Second),
		BumpEnabled:  l.envBool("BUMP_ENABLED", true),

		UseGPIO: l.envBool("GPIO", false),
		GPIO: gpio.Config{
			Chip:      envStr("GPIO_CHIP", ""),
			TouchPins: l.envInts("TOUCH_PINS", nil),
			HomePin:   l.envInt("HOME_PIN", -1),
			AwayPin:   l.envInt("AWAY_PIN", -1),
		},

		AudioPeaksPath:   envStr("AUDIO_PEAKS", audio.DefaultPeaksPath()),
		AudioControlPath: envStr("AUDIO_CONTROL", audio.DefaultControlPath()),
		AudioInterval:    l.envDuration("AUDIO_INTERVAL", 100*time.Millisecond),

		TWChartAddr:    envStr("TWCHART_ADDR", ""),
		TWChartSession: envStr("TWCHART_SESSION", "stringdriver"),
		TWChartLabels:  envStr("TWCHART_LABELS", ""),

		LogLevel: logLevel,
	}

	if l.err != nil {
		return Config{}, l.err
	}
	if err := cfg.Layout.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid layout: %w", err)
	}
	if cfg.UseGPIO && len(cfg.GPIO.TouchPins) != 2*cfg.Layout.StringNum {
		return Config{}, fmt.Errorf("need %d touch pins, got %d", 2*cfg.Layout.StringNum, len(cfg.GPIO.TouchPins))
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(prefix + key); v != "" {
		return v
	}
	return fallback
}

// loader keeps the first parse error so Load can read every variable before
// reporting
type loader struct {
	err error
}

func (l *loader) fail(key string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s%s: %w", prefix, key, err)
	}
}

func (l *loader) envInt(key string, fallback int) int {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, err)
		return fallback
	}
	return n
}

func (l *loader) envInt32(key string, fallback int32) int32 {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		l.fail(key, err)
		return fallback
	}
	return int32(n)
}

func (l *loader) envBool(key string, fallback bool) bool {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, err)
		return fallback
	}
	return b
}

func (l *loader) envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(key, err)
		return fallback
	}
	return d
}

func (l *loader) envInts(key string, fallback []int) []int {
	return envList(l, key, fallback, strconv.Atoi)
}

func (l *loader) envFloats(key string, fallback []float64) []float64 {
	return envList(l, key, fallback, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

func envList[T any](l *loader, key string, fallback []T, parse func(string) (T, error)) []T {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	var values []T
	for field := range strings.SplitSeq(v, ",") {
		value, err := parse(strings.TrimSpace(field))
		if err != nil {
			l.fail(key, err)
			return fallback
		}
		values = append(values, value)
	}
	return values
}

// envAxisMap parses "axis=value,..." pairs
func (l *loader) envAxisMap(key string) map[int]int32 {
	v := os.Getenv(prefix + key)
	if v == "" {
		return nil
	}
	values := map[int]int32{}
	for entry := range strings.SplitSeq(v, ",") {
		axisStr, valueStr, ok := strings.Cut(entry, "=")
		if !ok {
			l.fail(key, fmt.Errorf("invalid entry %q", entry))
			return nil
		}
		axis, err := strconv.Atoi(strings.TrimSpace(axisStr))
		if err != nil {
			l.fail(key, err)
			return nil
		}
		value, err := strconv.ParseInt(strings.TrimSpace(valueStr), 10, 32)
		if err != nil {
			l.fail(key, err)
			return nil
		}
		values[axis] = int32(value)
	}
	return values
}
