// Command formctl validates form schemas, evaluates formulas and manages
// stored forms and their submissions.
package main

import (
	"os"

	"github.com/dlovans/formengine/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
