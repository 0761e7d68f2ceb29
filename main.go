package main

import (
	"os"

	"github.com/anilymngl/codemind/cmd"
	"github.com/anilymngl/codemind/pkg/utils"
)

func main() {
	logger := utils.GetLogger()
	runlog := utils.GetRunLogger()

	err := cmd.Execute()
	if err != nil {
		logger.Logf("Application error: %v", err)
	}
	if cerr := runlog.Close(); cerr != nil {
		os.Stderr.WriteString("Error closing run log: " + cerr.Error() + "\n")
	}
	if cerr := logger.Close(); cerr != nil {
		os.Stderr.WriteString("Error closing logger: " + cerr.Error() + "\n")
	}
	if err != nil {
		os.Exit(1)
	}
}
