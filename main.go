// The main package for the qaharvester executable.
package main

import (
	"github.com/JakeFAU/forum-qa-harvester/cmd"
)

func main() {
	cmd.Execute()
}
