// Package main provides the instore CLI for working with an encrypted,
// label-searchable instance store.
package main

import "github.com/mscno/instore/cmd/instore/commands"

func main() {
	commands.Execute(Version)
}
