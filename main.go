package main

import (
	"fmt"
	"os"

	"github.com/jdginn/showctl/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "showctl: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
