// The main package for the stockbot executable.
package main

import (
	"github.com/JakeFAU/stockbot/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
