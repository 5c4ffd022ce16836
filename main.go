// The main package for the siterag executable.
package main

import (
	"github.com/JakeFAU/site-rag-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
