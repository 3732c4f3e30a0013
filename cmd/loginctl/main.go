package main

import "github.com/aussiebroadwan/loginkit/cmd/loginctl/cmd"

func main() {
	cmd.Execute()
}
