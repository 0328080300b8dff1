package main

import "github.com/endorses/filterkit/cmd"

func main() {
	cmd.Execute()
}
