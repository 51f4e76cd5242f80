package main

import "github.com/edisonibujes/CriptoIQ/internal/cli"

func main() {
	cli.Execute()
}
