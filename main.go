// Command scanfleet runs the scan worker fleet.
package main

import "github.com/JakeFAU/scanfleet/cmd"

func main() {
	cmd.Execute()
}
