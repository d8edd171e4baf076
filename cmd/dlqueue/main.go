package main

import "github.com/datallboy/dlqueue/internal/cli"

func main() {
	cli.Execute()
}
