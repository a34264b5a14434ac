package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "qvote",
		Short:         "Quantum-secured voting kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		channelCommand(),
		simulateCommand(),
		attackCommand(),
		auditCommand(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvote: %v\n", err)
		os.Exit(1)
	}
}
