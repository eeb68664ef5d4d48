package main

import "github.com/serroba/gcra/internal/cmd"

func main() {
	cmd.Execute()
}
