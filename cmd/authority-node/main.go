package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	appMeeting "github.com/swapmeet/swapmeet/internal/application/meeting"
	"github.com/swapmeet/swapmeet/internal/config"
	p2papi "github.com/swapmeet/swapmeet/internal/p2p/api"
	"github.com/swapmeet/swapmeet/internal/p2p/consensus"
	"github.com/swapmeet/swapmeet/internal/p2p/state"
)

func main() {
	cfg, err := config.LoadAuthority()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config error")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("node_id", cfg.NodeID).Logger()

	policy, err := appMeeting.NewPolicy(cfg.TrackingPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracking policy error")
	}

	node, err := consensus.NewNode(consensus.Config{
		NodeID:         cfg.NodeID,
		RaftAddr:       cfg.RaftAddr,
		DataDir:        cfg.DataDir,
		Bootstrap:      cfg.Bootstrap,
		SnapshotRetain: 2,
		ApplyTimeout:   cfg.ApplyTimeout,
		Machine: state.Settings{
			PaymentWindow:  cfg.PaymentWindow,
			RadiusMeters:   cfg.MeetingRadiusMeters,
			Fees:           cfg.Fees,
			TrackingPolicy: policy,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create raft node")
	}
	defer func() {
		_ = node.Shutdown()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Bootstrap && cfg.JoinEndpoint != "" {
		if err := joinCluster(ctx, cfg, node.RaftAddr()); err != nil {
			logger.Error().Err(err).Str("endpoint", cfg.JoinEndpoint).Msg("join cluster failed")
		} else {
			logger.Info().Str("endpoint", cfg.JoinEndpoint).Msg("joined cluster")
		}
	}

	if cfg.StartupWaitLeader > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, cfg.StartupWaitLeader)
		if leader, err := node.WaitForLeader(waitCtx, 150*time.Millisecond); err == nil {
			logger.Info().Str("leader", leader).Msg("leader known")
		}
		cancel()
	}

	apiServer := p2papi.NewServer(node, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("http_addr", cfg.HTTPAddr).Str("raft_addr", node.RaftAddr()).Bool("bootstrap", cfg.Bootstrap).Msg("authority node listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func joinCluster(ctx context.Context, cfg *config.AuthorityConfig, raftAddr string) error {
	endpoint := cfg.JoinEndpoint + "/v1/p2p/raft/join"
	body, err := json.Marshal(map[string]string{
		"node_id":   cfg.NodeID,
		"raft_addr": raftAddr,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	var lastErr error
	for i := 0; i < cfg.JoinRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("join returned status %d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.JoinRetryDelay):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("join failed")
	}
	return lastErr
}
