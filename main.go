package main

import "github.com/tidelane/convocore/cmd"

func main() {
	cmd.Execute()
}
