// Command resqueworker runs the background job worker: "work" starts a
// supervisor and its pool of child processors, "enqueue" pushes one job,
// "status" reports registered workers and counters.
package main

import (
	"fmt"
	"os"

	"github.com/szhyhun/resque/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
