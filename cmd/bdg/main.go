package main

import (
	"os"

	"github.com/bdgtools/bdg/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
