// Command tracker broadcasts this device's position for one meeting session
// and reports the counterpart's. Positions are read from stdin as
// "latitude,longitude" lines; the latest line is what gets pushed.
//
// SIGUSR1 marks the app as backgrounded and SIGUSR2 brings it back; the loop
// stops on its own once it has been backgrounded for longer than the grace period.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/swapmeet/swapmeet/internal/config"
	domain "github.com/swapmeet/swapmeet/internal/domain/tracking"
	"github.com/swapmeet/swapmeet/internal/infrastructure/authorityclient"
	"github.com/swapmeet/swapmeet/internal/tracking"
)

func main() {
	cfg, err := config.LoadTracker()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config error")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	sessionID, err := uuid.Parse(cfg.SessionID)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid MEETING_SESSION_ID")
	}
	client, err := authorityclient.New(cfg.BaseURL, cfg.Token, cfg.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("authority client error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gps := &stdinSampler{}
	go gps.read(os.Stdin, logger)

	loop := tracking.NewLoop(tracking.Config{
		SessionID:  sessionID,
		ProposalID: cfg.ProposalID,
		Interval:   cfg.Interval,
		Timeout:    cfg.Timeout,
		Grace:      cfg.Grace,
	}, gps, client, logger)
	loop.OnCounterpart(func(pos domain.LivePosition) {
		ev := logger.Info().Str("party", pos.PartyID).Float64("latitude", pos.Latitude).Float64("longitude", pos.Longitude)
		if own, err := gps.Sample(ctx); err == nil {
			ev = ev.Str("distance_km", domain.FormatDistance(domain.DistanceKm(own, pos.Point())))
		}
		ev.Msg("counterpart position")
	})
	loop.Start(ctx)
	defer loop.Stop()

	lifecycle := make(chan os.Signal, 1)
	signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-lifecycle:
			if sig == syscall.SIGUSR1 {
				logger.Info().Dur("grace", cfg.Grace).Msg("backgrounded")
				loop.Background()
			} else {
				logger.Info().Msg("foregrounded")
				loop.Foreground()
				loop.Start(ctx)
			}
		}
	}
}

var errNoFix = errors.New("no position fix yet")

// stdinSampler serves the most recent position read from stdin.
type stdinSampler struct {
	mu  sync.RWMutex
	fix *domain.Point
}

func (s *stdinSampler) Sample(context.Context) (domain.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fix == nil {
		return domain.Point{}, errNoFix
	}
	return *s.fix, nil
}

func (s *stdinSampler) read(f *os.File, logger zerolog.Logger) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p, err := parsePoint(line)
		if err != nil {
			logger.Warn().Err(err).Str("line", line).Msg("ignoring position")
			continue
		}
		s.mu.Lock()
		s.fix = &p
		s.mu.Unlock()
	}
}

func parsePoint(line string) (domain.Point, error) {
	lat, lon, ok := strings.Cut(line, ",")
	if !ok {
		return domain.Point{}, fmt.Errorf("expected latitude,longitude")
	}
	p := domain.Point{}
	var err error
	if p.Latitude, err = cast.ToFloat64E(strings.TrimSpace(lat)); err != nil {
		return domain.Point{}, err
	}
	if p.Longitude, err = cast.ToFloat64E(strings.TrimSpace(lon)); err != nil {
		return domain.Point{}, err
	}
	return p, p.Validate()
}
