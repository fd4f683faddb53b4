package main

import (
	"os"

	kamctlcmd "github.com/kirozen/kamctl/pkg/kamctl/cmd"
)

func main() {
	root := kamctlcmd.NewRootCommand(kamctlcmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
