package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quantum-voting/models"
	"quantum-voting/service"
)

const (
	KindKey = "kind"
	AllKey  = "all"
)

var attackKinds = []models.AttackKind{
	models.AttackInterceptResend,
	models.AttackPhotonSplitting,
	models.AttackReplay,
	models.AttackManInTheMiddle,
}

func attackCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "attack",
		Short: "Simulates attacks against the channel and records them in the audit ledger",
		RunE:  attackFunc,
	}
	flags := c.Flags()
	flags.String(KindKey, string(models.AttackInterceptResend), "Attack kind: intercept_resend, photon_number_split, replay, man_in_middle")
	flags.Float64(RateKey, 0, "Intercept or multi-photon rate (0 uses the kind's default)")
	flags.Bool(AllKey, false, "Run every attack kind and print the summary")
	return c
}

func attackFunc(c *cobra.Command, _ []string) (err error) {
	flags := c.Flags()
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}
	kind, err := flags.GetString(KindKey)
	if err != nil {
		return err
	}
	rate, err := flags.GetFloat64(RateKey)
	if err != nil {
		return err
	}
	all, err := flags.GetBool(AllKey)
	if err != nil {
		return err
	}

	vs, err := service.NewVotingService(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := vs.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	kinds := []models.AttackKind{models.AttackKind(kind)}
	if all {
		kinds = attackKinds
	}

	out := c.OutOrStdout()
	for _, k := range kinds {
		outcome, err := vs.SimulateAttack(k, rate)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-45s detected=%-5t error_rate=%.4f\n", models.AttackNames[k], outcome.Detected, outcome.ErrorRate)
	}

	if all {
		return printJSON(out, vs.AttackSummary())
	}
	return nil
}
