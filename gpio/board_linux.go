//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "stringdriver"

// Board holds the requested input lines
type Board struct {
	chip  string
	touch []*gpiocdev.Line
	home  *gpiocdev.Line
	away  *gpiocdev.Line
}

func findChip(maxPin int) (string, error) {
	for _, name := range gpiocdev.Chips() {
		c, err := gpiocdev.NewChip(name)
		if err != nil {
			continue
		}
		lines := c.Lines()
		c.Close()
		if lines > maxPin {
			return name, nil
		}
	}
	return "", errors.New("no gpiochip exposes every configured pin")
}

func requestInput(chip string, offset int) (*gpiocdev.Line, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithConsumer(consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("error requesting line %d on %s: %w", offset, chip, err)
	}
	return line, nil
}

// Open requests every configured line as a pulled up input
func Open(cfg Config) (*Board, error) {
	chip := cfg.Chip
	if chip == "" {
		var err error
		chip, err = findChip(cfg.maxPin())
		if err != nil {
			return nil, err
		}
	}

	b := &Board{chip: chip}
	for _, pin := range cfg.TouchPins {
		line, err := requestInput(chip, pin)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.touch = append(b.touch, line)
	}

	var err error
	if cfg.HomePin >= 0 {
		if b.home, err = requestInput(chip, cfg.HomePin); err != nil {
			b.Close()
			return nil, err
		}
	}
	if cfg.AwayPin >= 0 {
		if b.away, err = requestInput(chip, cfg.AwayPin); err != nil {
			b.Close()
			return nil, err
		}
	}

	return b, nil
}

func (b *Board) Chip() string {
	return b.chip
}

func pressed(line *gpiocdev.Line) (bool, error) {
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("error reading line: %w", err)
	}
	return v == 0, nil
}

// Touched implements controller.TouchSensor.
func (b *Board) Touched(index int) (bool, error) {
	if index < 0 || index >= len(b.touch) {
		return false, fmt.Errorf("no touch sensor %d", index)
	}
	return pressed(b.touch[index])
}

// AtHome implements controller.LimitSensor.
func (b *Board) AtHome() (bool, error) {
	if b.home == nil {
		return false, errors.New("no home switch configured")
	}
	return pressed(b.home)
}

// AtAway implements controller.LimitSensor.
func (b *Board) AtAway() (bool, error) {
	if b.away == nil {
		return false, errors.New("no away switch configured")
	}
	return pressed(b.away)
}

func (b *Board) Close() error {
	var errs []error
	for _, line := range append(b.touch, b.home, b.away) {
		if line != nil {
			errs = append(errs, line.Close())
		}
	}
	return errors.Join(errs...)
}
