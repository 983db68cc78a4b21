// Command catalog-guard checks catalog access decisions against configured
// policies.
package main

import "github.com/Sentinel-Gate/catalogguard/cmd/catalog-guard/cmd"

func main() {
	cmd.Execute()
}
