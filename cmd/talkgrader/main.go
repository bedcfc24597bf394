package main

import (
	"os"

	"talkgrader/cmd/talkgrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
