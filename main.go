package main

import "stablemint/internal/cli"

func main() {
	cli.Execute()
}
