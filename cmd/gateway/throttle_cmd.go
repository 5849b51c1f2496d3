package main

import (
	"context"
	"fmt"
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newThrottleCmd faz um CL.THROTTLE avulso, útil para inspecionar um bucket.
// Consome tokens como uma requisição de verdade.
func newThrottleCmd() *cobra.Command {
	var (
		spec   policySpec
		dotenv string
	)

	cmd := &cobra.Command{
		Use:   "throttle <key>",
		Short: "Executa um CL.THROTTLE para a chave e mostra a decisão",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(dotenvFiles(dotenv)...)
			if err != nil {
				return err
			}
			policy, err := spec.policy()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Redis.ConnectTimeout+5*time.Second)
			defer cancel()

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()

			provider := domain.RuleProviderFunc[domain.Key](func(k domain.Key) (*domain.Rule, error) {
				r := domain.NewRule(k, policy)
				return &r, nil
			})
			svc, err := application.NewService[domain.Key](provider, b.conn)
			if err != nil {
				return err
			}

			out, err := svc.Enforce(ctx, domain.Key(args[0]))
			if err != nil {
				return err
			}
			printOutcome(cmd, out)
			return nil
		},
	}

	cmd.Flags().Int64Var(&spec.Tokens, "tokens", 10, "tokens por período")
	cmd.Flags().DurationVar(&spec.Period, "period", time.Second, "período (segundos inteiros)")
	cmd.Flags().Int64Var(&spec.Burst, "burst", 0, "rajada máxima (0 = tokens)")
	cmd.Flags().Int64Var(&spec.Cost, "cost", 0, "tokens por requisição (0 = 1)")
	cmd.Flags().StringVar(&dotenv, "env-file", "", "arquivo .env")
	return cmd
}

// printOutcome colore o outcome quando a saída é um terminal.
func printOutcome(cmd *cobra.Command, out domain.Outcome) {
	kind := color.New(color.FgGreen, color.Bold)
	if out.Kind == domain.OutcomeThrottled {
		kind = color.New(color.FgRed, color.Bold)
	}

	d := out.Decision
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "key:         %s\n", out.Rule.Key)
	fmt.Fprintf(w, "policy:      %s\n", out.Rule.Policy)
	fmt.Fprintf(w, "outcome:     %s\n", kind.Sprint(out.Kind))
	fmt.Fprintf(w, "limit:       %d\n", d.Limit)
	fmt.Fprintf(w, "remaining:   %d\n", d.Remaining)
	fmt.Fprintf(w, "retry_after: %s\n", d.RetryAfter)
	fmt.Fprintf(w, "reset_after: %s\n", d.ResetAfter)
}
