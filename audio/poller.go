package audio

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/calvinmclean/stringdriver"
)

// Poller periodically reads the monitor's output and publishes the analysis.
// Channels missing from a read keep their previous values.
type Poller struct {
	reader   Reader
	interval time.Duration
	logger   *slog.Logger
	latest   stringdriver.Latest[stringdriver.AudioSnapshot]
	now      func() time.Time
}

func NewPoller(reader Reader, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		reader:   reader,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot implements controller.AudioSource.
func (p *Poller) Snapshot() (stringdriver.AudioSnapshot, bool) {
	return p.latest.Load()
}

// Poll reads once and publishes the merged result
func (p *Poller) Poll() error {
	partials, err := p.reader.ReadPartials()
	if err != nil {
		return err
	}

	fresh := Analyze(partials)
	prev, _ := p.latest.Load()

	n := max(p.reader.Channels, len(fresh.VoiceCount))
	next := stringdriver.AudioSnapshot{
		VoiceCount: resize(slices.Clone(prev.VoiceCount), n),
		AmpSum:     resize(slices.Clone(prev.AmpSum), n),
		At:         p.now(),
	}
	copy(next.VoiceCount, fresh.VoiceCount)
	copy(next.AmpSum, fresh.AmpSum)

	p.latest.Store(next)
	return nil
}

func resize[T any](s []T, n int) []T {
	if len(s) >= n {
		return s[:n]
	}
	return append(s, make([]T, n-len(s))...)
}

// Run polls until ctx is done
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(); err != nil && !errors.Is(err, ErrNoData) {
			p.logger.Debug("error polling audio", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
