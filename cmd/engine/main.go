package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(3)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe()
	case "feedback":
		if len(os.Args) < 3 {
			fatalf(3, "usage: engine feedback <file>")
		}
		err = runFeedback(os.Args[2])
	case "export-state":
		err = runExportState()
	case "reset-learning":
		err = runResetLearning()
	default:
		usage()
		os.Exit(3)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: engine <serve|feedback <file>|export-state|reset-learning>")
}
