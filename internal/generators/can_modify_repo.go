// +build ignore

package main

import (
	"os"

	"github.com/polkit-go/polkitd/internal/generators"
)

func main() {
	if !generators.InstallOnlyMode() {
		os.Exit(1)
	}
}
