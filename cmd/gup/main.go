// Command gup is a recursive, user-extensible build tool.
package main

import (
	"os"

	"github.com/gup-build/gup/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
