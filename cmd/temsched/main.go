package main

import "github.com/philosquare/zju-tem/cmd"

func main() {
	cmd.Execute()
}
