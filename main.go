package main

import (
	"github.com/frahmantamala/consultation-booking/cmd"

	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
