package main

import (
	"os"

	"github.com/NamanBalaji/tfm/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
