// Command buyctl is the operator tool for the buy process service: it lists
// the rule catalogue, inspects stored buy processes and announces channel
// message changes to every running instance.
package main

import (
	"os"

	"buy-process-service/internal/util"
)

func main() {
	defer util.SyncLogger()

	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
