package main

import "github.com/shelfjetlabs/shelfjet-worker/internal/cli"

func main() {
	cli.Execute()
}
