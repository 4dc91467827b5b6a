package main

import (
	"fmt"
	"os"

	"github.com/rowanlane/convoy/internal/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoy: %v\n", err)
	}
	os.Exit(cmd.ExitCode(err))
}
