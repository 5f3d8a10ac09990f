// SPDX-License-Identifier: MPL-2.0

package main

import cmd "icu-benchmarks/cmd/icubench"

func main() {
	cmd.Execute()
}
