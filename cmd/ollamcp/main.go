package main

import (
	"os"

	"github.com/lydakis/ollamcp/internal/cli"
	"github.com/lydakis/ollamcp/internal/log"
)

func main() {
	code := cli.Run(os.Args[1:])
	log.Sync()
	os.Exit(code)
}
