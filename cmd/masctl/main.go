// Package main provides masctl, a terminal client for driving
// vulnerability-testing runs against the MAS backend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
