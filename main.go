package main

import "github.com/relaymesh/callbridge/cmd"

func main() {
	cmd.Execute()
}
