package main

import (
	"fmt"
	"os"
)

// main 是命令行入口
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
