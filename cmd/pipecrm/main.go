package main

import "pipecrm/cmd/cli"

func main() {
	cli.Execute()
}
