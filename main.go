package main

import "github.com/dispatchd/dispatch/cmd"

func main() {
	cmd.Execute()
}
