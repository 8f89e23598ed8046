package main

import (
	"fmt"
	"os"

	"github.com/me/hybpiper/internal/cli"
)

func main() {
	err := cli.NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(cli.ExitCode(err))
}
