package main

import "github.com/jmcleod/ironkey/cmd/ironkey/cmd"

func main() {
	cmd.Execute()
}
