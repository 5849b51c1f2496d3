package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Reverse proxy com rate limit via CL.THROTTLE",
		Long: `Gateway HTTP que aplica rate limit (GCRA do módulo Cell do Redis/Valkey)
antes de repassar a requisição ao upstream.

A configuração vem do ambiente (e de um .env opcional); veja config.go.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newThrottleCmd())
	return root
}
