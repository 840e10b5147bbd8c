package main

import "github.com/credd-network/credd/internal/cli"

func main() {
	cli.Execute()
}
