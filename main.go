package main

import (
	"provision/cmd"
	"provision/internal/logs"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logs.Logger.Fatal(err)
	}
}
