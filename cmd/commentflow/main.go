package main

import "commentflow/cmd/cli"

func main() {
	cli.Execute()
}
