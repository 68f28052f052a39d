// Command mangalib runs the mangalib parser.
package main

import "github.com/JakeFAU/mangalib-parser/cmd"

func main() {
	cmd.Execute()
}
