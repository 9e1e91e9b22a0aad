package main

import (
	"github.com/migrahosting-alt/mpanel-sub000/internal/cli"
)

func main() {
	cli.Execute()
}
