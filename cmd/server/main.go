package main

import (
	"os"

	"tezgah/backend/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
