// Package main provides the entry point for the ledgerctl CLI.
package main

import "ledgercache/internal/cli"

func main() {
	cli.ExecuteLedgerctl()
}
