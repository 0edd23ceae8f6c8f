package main

import "github.com/sarchlab/cachescope/cmd"

func main() {
	cmd.Execute()
}
