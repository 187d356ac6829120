// Command amqpcore decodes, records and exercises AMQP 1.0 connections.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/amqpcore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
