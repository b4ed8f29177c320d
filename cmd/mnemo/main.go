package main

import "github.com/felixgeelhaar/mnemo/cmd/mnemo/cli"

func main() {
	cli.Execute()
}
