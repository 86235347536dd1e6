package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata" // Asia/Manila must resolve on hosts without zoneinfo

	"github.com/Devign20164/ForgePh/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "forgeph-server: %v\n", err)
		os.Exit(1)
	}
}
