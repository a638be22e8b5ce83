// Command transmux is the entrypoint for the transmux batch converter.
package main

import (
	"os"

	"github.com/backmassage/transmux/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
