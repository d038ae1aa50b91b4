// Package main starts the sportchef record store.
package main

import (
	"github.com/louisbranch/sportchef/internal/cmd/sportchef"
	"github.com/louisbranch/sportchef/internal/platform/config"
)

func main() {
	cfg, err := sportchef.ParseConfig()
	if err != nil {
		config.Exitf("parse config: %v", err)
	}
	if err := sportchef.NewRootCommand(cfg).Execute(); err != nil {
		config.Exitf("sportchef: %v", err)
	}
}
