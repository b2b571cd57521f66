// The main package for the filings-crawler executable.
package main

import "github.com/quantfold/filings-crawler/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
