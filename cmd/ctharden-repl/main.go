// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	"ctharden/repl"
)

func main() {
	fmt.Println("ctharden pipeline debugger — commands: load <file.ka> [function], order, linearize [pcfl|sese], persistency, constraints, quit")
	repl.Start(os.Stdin)
}
