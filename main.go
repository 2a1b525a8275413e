package main

import (
	"github.com/xkilldash9x/applyflow/cmd"
)

// main is the entry point for the applyflow server.
func main() {
	cmd.Execute()
}
