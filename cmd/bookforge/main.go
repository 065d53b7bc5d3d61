package main

import "bookforge/internal/cli"

func main() {
	cli.Execute()
}
