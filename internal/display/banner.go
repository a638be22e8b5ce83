package display

import (
	"fmt"
	"os"

	"github.com/backmassage/transmux/internal/logging"
)

// PrintBanner prints the ASCII art banner; uses Cyan if colors are enabled.
func PrintBanner() {
	if logging.Cyan != "" {
		fmt.Fprint(os.Stdout, logging.Cyan)
	}
	fmt.Fprint(os.Stdout, ` _____
|_   _| __ __ _ _ __  ___ _ __ ___  _   ___  __
  | || '__/ _`+"`"+` | '_ \/ __| '_ `+"`"+` _ \| | | \ \/ /
  | || | | (_| | | | \__ \ | | | | | |_| |>  <
  |_||_|  \__,_|_| |_|___/_| |_| |_|\__,_/_/\_\
`)
	if logging.Cyan != "" {
		fmt.Fprintln(os.Stdout, logging.NC)
	}
}
