// Command blocktreecli is a thin interactive driver over the blocktree
// engine: insert, search, print, delete and sync a single on-disk B-tree
// image, matching the 1..5/default menu in original_source/main.c.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/gjbauer/blocktree"
)

const defaultImageBlocks = 4096

func main() {
	path := flag.String("image", "my.img", "path to the block image file")
	flag.Parse()

	eng, err := openOrInit(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "blocktreecli: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	in := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Select:\n(1) to insert a key\n(2) to search for a key\n(3) for debug print\n(4) to delete a key\n(5) to simulate sync\n> ")

		choice, ok := readUint(in)
		if !ok {
			return
		}

		switch choice {
		case 1:
			fmt.Print("Key to insert: ")
			key, ok := readUint(in)
			if !ok {
				return
			}
			fmt.Print("Value to insert: ")
			value, ok := readUint(in)
			if !ok {
				return
			}
			if err := eng.Insert(key, value); err != nil {
				fmt.Fprintf(os.Stderr, "insert: %v\n", err)
			}
		case 2:
			fmt.Print("Key to search: ")
			key, ok := readUint(in)
			if !ok {
				return
			}
			value, found, err := eng.Search(key)
			switch {
			case err != nil:
				fmt.Fprintf(os.Stderr, "search: %v\n", err)
			case found:
				fmt.Printf("Found key! value=%d\n", value)
			default:
				fmt.Println("Did not find key!")
			}
		case 3:
			if err := eng.Print(os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "print: %v\n", err)
			}
		case 4:
			fmt.Print("Key to delete: ")
			key, ok := readUint(in)
			if !ok {
				return
			}
			if err := eng.Delete(key); err != nil {
				fmt.Fprintf(os.Stderr, "delete: %v\n", err)
			}
		case 5:
			if err := eng.Sync(); err != nil {
				fmt.Fprintf(os.Stderr, "sync: %v\n", err)
			}
		default:
			return
		}
	}
}

// openOrInit opens an existing image at path, or creates a fresh one with
// a default block count if none exists yet.
func openOrInit(path string) (*blocktree.Engine, error) {
	if _, err := os.Stat(path); err == nil {
		return blocktree.Open(path, 0)
	}
	return blocktree.Init(path, defaultImageBlocks, 0)
}

// readUint reads one decimal integer from in. A non-numeric line or EOF
// is treated as the REPL's "default: exit" case.
func readUint(in *bufio.Reader) (uint64, bool) {
	var v uint64
	n, err := fmt.Fscan(in, &v)
	if err != nil || n != 1 {
		return 0, false
	}
	return v, true
}
