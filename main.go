package main

import "github.com/arcscope/arcscope/cmd"

func main() {
	cmd.Execute()
}
