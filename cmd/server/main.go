package main

import "github.com/Togather-Foundation/safetynow/cmd/server/cmd"

func main() {
	cmd.Execute()
}
