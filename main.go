package main

import "github.com/audiolibrelab/fusecapture/cmd"

func main() {
	cmd.Execute()
}
