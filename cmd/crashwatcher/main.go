package main

import "crashwatcher/internal/cli"

func main() {
	cli.Execute()
}
