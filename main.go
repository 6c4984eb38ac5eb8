// The main package for the panoharvest executable.
package main

import (
	"github.com/JakeFAU/panorama-harvester/cmd"
)

func main() {
	cmd.Execute()
}
