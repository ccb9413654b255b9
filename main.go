package main

import "stemgen/cmd"

func main() {
	cmd.Execute()
}
