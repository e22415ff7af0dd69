package main

import (
	"os"

	"github.com/gordyrad/chat-pulse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
