// Package main は運用 CLI のエントリーポイントです。
package main

import (
	"os"

	"github.com/yourusername/media-forge/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
