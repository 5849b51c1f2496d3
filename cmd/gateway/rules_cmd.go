package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Ferramentas para o arquivo de regras",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Valida o arquivo de regras e mostra as rotas na ordem de avaliação",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := loadRules(args[0])
			if err != nil {
				return err
			}
			// o segredo real não importa para validar
			rp, err := rf.provider("check")
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHOD\tPREFIX\tNAME\tPOLICY")
			for _, rt := range rp.Routes() {
				method := rt.Method
				if method == "" {
					method = "*"
				}
				policy := rt.Policy.String()
				if rt.Exempt {
					policy = "exempt"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", method, rt.Prefix, rt.Name, policy)
			}
			if rf.Default != nil {
				p, _ := rf.Default.policy()
				fmt.Fprintf(tw, "*\t(default)\t\t%s\n", p)
			}
			return tw.Flush()
		},
	})
	return cmd
}
