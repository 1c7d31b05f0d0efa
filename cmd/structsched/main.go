// Command structsched drives the structured-task scheduler from the command
// line: it runs the priority propagation scenario, lists priority levels and
// prints the effective configuration.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
