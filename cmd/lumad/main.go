package main

import "github.com/bryanchriswhite/lumad/cmd/lumad/commands"

func main() {
	commands.Execute()
}
