package main

import (
	"os"

	"orderload/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
