// Command studiovault manages local-first synchronized collections.
package main

import (
	"os"

	"github.com/kimhsiao/studiovault/internal/command"
)

func main() {
	if err := command.NewRootCmd(command.Version).Execute(); err != nil {
		os.Exit(1)
	}
}
