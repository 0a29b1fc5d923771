// Command ninepd is the 9P2000.u file-service daemon.
package main

import (
	"fmt"
	"os"

	"github.com/ninep-go/ninepd/cmd/ninepd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
