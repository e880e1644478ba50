package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/phrazzld/docreview-api/internal/credential"
	"github.com/spf13/cobra"
)

// newHashKeyCmd prints the apiKeyHash of each key read from stdin, one per
// line, so operators can match /queues rows to configured credentials.
func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Print the queue hash of API keys read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				key := strings.TrimSpace(scanner.Text())
				if key == "" {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), credential.Hash(key))
			}
			return scanner.Err()
		},
	}
}
