package main

import "DocSage/backend/go/cmd/ragctl/cmd"

func main() {
	cmd.Execute()
}
