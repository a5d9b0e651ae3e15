package main

import "github.com/cloudpin/cloudpin/cmd"

func main() {
	cmd.Execute()
}
