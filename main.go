package main

import (
	"fmt"
	"os"

	cmd "github.com/fabrik/fabrik/cmd/fabrik"
)

func main() {
	err := cmd.Fabrik.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
