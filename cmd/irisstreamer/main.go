package main

import "github.com/bryanchriswhite/IrisStreamer/cmd/irisstreamer/commands"

func main() {
	commands.Execute()
}
