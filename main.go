package main

import "github.com/iblconvert/alyx2nwb/cmd"

func main() {
	cmd.Execute()
}
