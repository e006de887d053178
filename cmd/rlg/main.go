package main

import "rlg/internal/cli"

func main() {
	cli.Execute()
}
