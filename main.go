package main

import (
	"github.com/m0rphlin/operetta/cmd"
)

func main() {
	cmd.Execute()
}
