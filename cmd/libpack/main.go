package main

import "github.com/oshokin/libpack/cmd/libpack/cmd"

func main() {
	cmd.Execute()
}
