package main

import "github.com/withobsrvr/streamctl/cmd"

func main() {
	cmd.Execute()
}
