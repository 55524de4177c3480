package main

import "policyrag/internal/cli"

func main() {
	cli.Execute()
}
