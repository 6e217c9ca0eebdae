package main

import (
	"fmt"
	"os"

	"github.com/influxdata/shardkit/cmd/shardd/launcher"
	"github.com/spf13/viper"
)

func main() {
	cmd := launcher.NewCommand(viper.New())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
