package main

import "github.com/bryanchriswhite/SplitView/cmd/splitview/commands"

func main() {
	commands.Execute()
}
