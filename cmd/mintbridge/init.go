package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1

listen_address: 0.0.0.0
listen_port: 8080
workers: 4

source:
  rpc_url: ${RPC_URL}
  contract_address: "0x0000000000000000000000000000000000000000"
  start_block: "latest-1000"
  confirmations: 6
  max_block_range: 500
  poll_interval: 5s

ledger:
  algod_url: ${ALGOD_URL}
  algod_token: ${ALGOD_TOKEN}
  mnemonic: ${BRIDGE_MNEMONIC}

store:
  dir_path: ./data

retry:
  max_attempts: 8
  base_backoff: 2s
  max_backoff: 5m

notifiers: []
`

const sampleEnv = `RPC_URL=https://eth.example.org
ALGOD_URL=https://algod.example.org
ALGOD_TOKEN=
BRIDGE_MNEMONIC=
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a sample config and .env",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if err := writeIfAbsent(cfgPath, sampleConfig); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", cfgPath)

		if err := writeIfAbsent(".env.example", sampleEnv); err != nil {
			return err
		}
		fmt.Fprintln(out, "wrote .env.example")
		fmt.Fprintln(out, "fill in the env vars and run: mintbridge validate")
		return nil
	},
}

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
