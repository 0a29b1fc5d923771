// Command ninepctl is the operator CLI for a running ninepd server: it
// talks to the unauthenticated control-plane HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/ninep-go/ninepd/cmd/ninepctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
