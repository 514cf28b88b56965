package main

import "github.com/edgeflare/pgtable/cmd/pgtable"

func main() {
	pgtable.Main()
}
