package main

import "github.com/nextlevelbuilder/followup/cmd"

func main() {
	cmd.Execute()
}
