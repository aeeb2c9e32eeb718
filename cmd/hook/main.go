// Command hook is the assistant-side producer: it classifies tool invocations
// and reports them to the approver daemon. Hooks always exit zero so a broken
// daemon never blocks the assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
