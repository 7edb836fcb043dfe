package main

import "github.com/forgeworks/forge/cmd"

func main() {
	cmd.Execute()
}
