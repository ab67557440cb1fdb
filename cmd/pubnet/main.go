// Command pubnet runs a Hub or a Node of the event network and the operator
// commands that go with them.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
