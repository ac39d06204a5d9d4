// calslots finds free time in your calendars and serves it over HTTP.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cpuguy83/calslots/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
