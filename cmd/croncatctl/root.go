package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"croncat/internal/chain"
	"croncat/internal/client"
)

// CLI holds the flags shared by every command.
type CLI struct {
	addr  string
	token string
}

func (c *CLI) client() *client.Client {
	return client.New(c.addr, c.token, nil)
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	cli := &CLI{}
	cmd := &cobra.Command{
		Use:           "croncatctl",
		Short:         "Control a croncatd node",
		Long:          `Send transactions and queries to the croncat contracts of a running croncatd.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cli.addr, "addr", envOr("CRONCAT_URL", "http://127.0.0.1:7070"), "croncatd API base URL")
	cmd.PersistentFlags().StringVar(&cli.token, "token", os.Getenv("CRONCAT_AUTH_TOKEN"), "API bearer token")

	cmd.AddCommand(newBlockCommand(cli))
	cmd.AddCommand(newAdvanceCommand(cli))
	cmd.AddCommand(newBalancesCommand(cli))
	cmd.AddCommand(newContractsCommand(cli))
	cmd.AddCommand(newQueryCommand(cli))
	cmd.AddCommand(newExecuteCommand(cli))
	cmd.AddCommand(newAgentCommand(cli))
	cmd.AddCommand(newTasksCommand(cli))
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTx reports a committed transaction: its height and wasm events.
func printTx(w io.Writer, res *chain.TxResult) error {
	fmt.Fprintf(w, "committed at height %d\n", res.Height)
	for _, ev := range res.Events {
		if ev.Type != "wasm" {
			continue
		}
		for _, a := range ev.Attributes {
			if a.Key == "_contract_address" {
				continue
			}
			fmt.Fprintf(w, "  %s=%s\n", a.Key, a.Value)
		}
	}
	return nil
}

// rawJSON checks that arg is a JSON document.
func rawJSON(arg string) (json.RawMessage, error) {
	if !json.Valid([]byte(arg)) {
		return nil, fmt.Errorf("not valid JSON: %s", arg)
	}
	return json.RawMessage(arg), nil
}
