// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/stitch/cmd/stitch"

func main() {
	cmd.Execute()
}
