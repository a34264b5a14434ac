package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quantum-voting/models"
	"quantum-voting/service"
)

const (
	VotersKey         = "voters"
	AttackEveryKey    = "attack-every"
	ConstituenciesKey = "constituencies"
	CandidatesKey     = "candidates"
	RetriesKey        = "retries"
	MetricsAddrKey    = "metrics-addr"
)

type simulateConfig struct {
	Voters         int
	AttackEvery    int
	Constituencies int
	Candidates     int
	Retries        int
	MetricsAddr    string
}

func simulateCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "simulate",
		Short: "Runs concurrent voters through key exchange, sealing and storage",
		RunE:  simulateFunc,
	}
	flags := c.Flags()
	flags.Int(VotersKey, 20, "Number of voters")
	flags.Int(AttackEveryKey, 0, "Put an eavesdropper on every Nth voter's first key exchange (0 disables)")
	flags.Int(ConstituenciesKey, 10, "Number of constituencies to draw from")
	flags.Int(CandidatesKey, 5, "Number of candidates per election")
	flags.Int(RetriesKey, 3, "Key exchange attempts per voter")
	flags.String(MetricsAddrKey, "", "Serve prometheus metrics on this address while running")
	return c
}

func parseSimulateFlags(c *cobra.Command) (*simulateConfig, error) {
	flags := c.Flags()
	sc := &simulateConfig{}
	var err error
	if sc.Voters, err = flags.GetInt(VotersKey); err != nil {
		return nil, err
	}
	if sc.AttackEvery, err = flags.GetInt(AttackEveryKey); err != nil {
		return nil, err
	}
	if sc.Constituencies, err = flags.GetInt(ConstituenciesKey); err != nil {
		return nil, err
	}
	if sc.Candidates, err = flags.GetInt(CandidatesKey); err != nil {
		return nil, err
	}
	if sc.Retries, err = flags.GetInt(RetriesKey); err != nil {
		return nil, err
	}
	if sc.MetricsAddr, err = flags.GetString(MetricsAddrKey); err != nil {
		return nil, err
	}
	if sc.Voters < 1 || sc.Constituencies < 1 || sc.Candidates < 1 || sc.Retries < 1 {
		return nil, errors.New("voters, constituencies, candidates and retries must be positive")
	}
	return sc, nil
}

func simulateFunc(c *cobra.Command, _ []string) (err error) {
	cfg, logger, err := loadConfig(c.Flags())
	if err != nil {
		return err
	}
	sc, err := parseSimulateFlags(c)
	if err != nil {
		return err
	}
	cfg.MaxConstituency = sc.Constituencies
	cfg.MaxCandidate = sc.Candidates

	vs, err := service.NewVotingService(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := vs.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if sc.MetricsAddr != "" {
		server := &http.Server{
			Addr:              sc.MetricsAddr,
			Handler:           promhttp.HandlerFor(vs.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
		defer server.Close()
	}

	queue := service.NewQueueProcessor(vs, cfg.QueueSize, cfg.Workers, logger)
	queue.Start()
	defer queue.Stop()

	g, ctx := errgroup.WithContext(c.Context())
	g.SetLimit(cfg.Workers)

	started := time.Now()
	for i := 0; i < sc.Voters; i++ {
		attack := sc.AttackEvery > 0 && (i+1)%sc.AttackEvery == 0
		g.Go(func() error {
			return runVoter(ctx, vs, queue, sc, cfg.RequiredElections, attack, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := vs.FlushBallots(); err != nil {
		return err
	}
	if _, err := vs.PurgeExpired(); err != nil {
		return err
	}

	return printJSON(c.OutOrStdout(), map[string]any{
		"voters":   sc.Voters,
		"duration": time.Since(started).String(),
		"health":   vs.Health(),
		"attacks":  vs.AttackSummary(),
		"metrics":  vs.Metrics(),
	})
}

func runVoter(ctx context.Context, vs *service.VotingService, queue *service.QueueProcessor, sc *simulateConfig, elections []models.ElectionType, attack bool, logger *logrus.Logger) error {
	selection := make(map[models.ElectionType]int, len(elections))
	for _, e := range elections {
		selection[e] = 1 + rand.Intn(sc.Constituencies)
	}
	info, err := vs.StartSession(selection)
	if err != nil {
		return err
	}

	secured := false
	for attempt := 0; attempt < sc.Retries && !secured; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := vs.GenerateKey(info.SessionID, attack && attempt == 0)
		switch {
		case err == nil:
			secured = true
		case errors.Is(err, service.ErrChannelCompromised):
			logger.WithField("attempt", attempt+1).Warn("Eavesdropping detected, retrying key exchange")
		default:
			return err
		}
	}
	if !secured {
		logger.Warn("Voter abandoned after repeated channel compromise")
		return vs.EndSession(info.SessionID)
	}

	for _, e := range elections {
		select {
		case result := <-queue.QueueVote(info.SessionID, e, 1+rand.Intn(sc.Candidates)):
			if !result.Success {
				return fmt.Errorf("vote for %s failed: %s", e, result.ErrorMessage)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
