package main

import (
	"github.com/spf13/cobra"

	"quantum-voting/quantum"
)

const (
	EveKey  = "eve"
	RateKey = "rate"
)

func channelCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "channel",
		Short: "Runs one BB84 key exchange and prints every protocol stage",
		RunE:  channelFunc,
	}
	flags := c.Flags()
	flags.Bool(EveKey, false, "Place an intercept-resend eavesdropper on the channel")
	flags.Float64(RateKey, 0.5, "Fraction of qubits the eavesdropper intercepts")
	return c
}

func channelFunc(c *cobra.Command, _ []string) error {
	flags := c.Flags()
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}
	eve, err := flags.GetBool(EveKey)
	if err != nil {
		return err
	}
	rate, err := flags.GetFloat64(RateKey)
	if err != nil {
		return err
	}
	if !eve {
		rate = 0
	}

	sim := quantum.NewSimulator(cfg.KeyBits, cfg.SampleSize, quantum.WithLogger(logger))
	result, err := sim.Run(cfg.RawLength(), eve, rate)
	if err != nil {
		return err
	}
	return printJSON(c.OutOrStdout(), result)
}
