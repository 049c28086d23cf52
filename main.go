// The main package for the fetchcore executable.
package main

import (
	"github.com/JakeFAU/fetchcore/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
