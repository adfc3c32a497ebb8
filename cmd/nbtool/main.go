// Command nbtool serves notebook editing and execution tools.
package main

import (
	"fmt"
	"os"

	"github.com/nstogner/nbtool/pkg/cli"
)

var version = "dev"

func main() {
	if err := cli.RootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
