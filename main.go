package main

import "github.com/audiolibrelab/voxclone/cmd"

func main() {
	cmd.Execute()
}
