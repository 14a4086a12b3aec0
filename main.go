package main

import (
	"errors"
	"fmt"
	"os"
)

// exitInvalid is the exit code for a video that fails validation, so scripts
// can tell bad input from operational failures.
const exitInvalid = 2

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errInvalidVideo) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitInvalid)
		}

		exitOnError(err)
	}
}
