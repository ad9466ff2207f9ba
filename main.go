package main

import (
	"os"

	"github.com/melih-ucgun/doorman/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
