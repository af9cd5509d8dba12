package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conductorone/wlanon/pkg/cli"
)

var version = "dev"

func main() {
	ctx := context.Background()

	cmd := &cobra.Command{
		Use:     "wlanon",
		Short:   "wlanon finds the RDF nodes that must stay blank for structural k-anonymity",
		Version: version,
	}

	for _, mk := range []func(context.Context, string) (*cobra.Command, error){
		cli.MakeRunCommand,
		cli.MakeStatsCommand,
		cli.MakeHistoryCommand,
	} {
		sub, err := mk(ctx, "wlanon")
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		cmd.AddCommand(sub)
	}

	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
