package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/normalizer"
)

func newNormalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize <text>...",
		Short: "Print the tokens a description normalizes to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := normalizer.Normalize(strings.Join(args, " "))
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				if tokens == nil {
					tokens = []string{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(tokens)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), normalizer.Join(tokens))
			return err
		},
	}
	cmd.Flags().Bool("json", false, "output tokens as a JSON array")
	return cmd
}
