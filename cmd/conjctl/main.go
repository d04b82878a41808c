package main

import "github.com/unkn0wn-root/conjcache/internal/cli"

func main() {
	cli.Execute()
}
