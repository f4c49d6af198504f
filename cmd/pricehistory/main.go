package main

import (
	_ "time/tzdata"

	"price-history/internal/cli"
)

func main() {
	cli.Execute()
}
