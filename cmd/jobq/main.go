package main

import (
	"os"

	"jobq/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
