package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gnemet/duckgrid/viewstate"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: duckgrid-validate <snapshot1.json> [snapshot2.json] ...")
		fmt.Println("       duckgrid-validate --schema   (print the view-state schema)")
		os.Exit(1)
	}

	if os.Args[1] == "--schema" {
		os.Stdout.Write(viewstate.Schema())
		return
	}

	allValid := true
	for _, arg := range os.Args[1:] {
		name := filepath.Base(arg)
		doc, err := os.ReadFile(arg)
		if err != nil {
			fmt.Printf("❌ Cannot read %s: %v\n", name, err)
			allValid = false
			continue
		}

		snap, err := viewstate.Decode(doc)
		if err != nil {
			fmt.Printf("❌ %s is invalid!\n   - %v\n", name, err)
			allValid = false
			continue
		}

		fmt.Printf("✅ %s is valid.", name)
		if ids := snap.ExpandedRowGroupIDs(); len(ids) > 0 {
			fmt.Printf(" (%d expanded groups)", len(ids))
		}
		fmt.Println()
	}

	if !allValid {
		os.Exit(1)
	}
}
