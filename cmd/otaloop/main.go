package main

import (
	"os"

	"github.com/roach88/otaloop/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
