package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/flockml/flock/apps/flockctl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "flockctl crashed: %v\n", r)
			if os.Getenv("FLOCK_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
