package main

import "github.com/runZeroInc/sshlogin/cmd"

func main() {
	cmd.Execute()
}
