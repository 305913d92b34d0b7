// SPDX-License-Identifier: MPL-2.0

// packsmith is a build orchestrator for families of TypeScript packages:
// one shared compiler pass, per-package bundling, and tree-shaking
// annotation of the generated bundles.
package main

import cmd "packsmith/cmd/packsmith"

func main() {
	cmd.Execute()
}
