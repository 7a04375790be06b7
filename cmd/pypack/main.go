package main

import (
	"os"

	"github.com/pypack/pypack/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
