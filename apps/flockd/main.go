package main

import (
	"github.com/flockml/flock/apps/flockd/cmd"
)

func main() {
	cmd.Execute()
}
