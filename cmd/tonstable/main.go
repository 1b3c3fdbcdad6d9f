package main

import "github.com/tonstable/risk-client/cmd/tonstable/cmd"

func main() {
	cmd.Execute()
}
