package main

import (
	"context"
	"os"

	"github.com/GlitchedBaby/TrafficXia/internal/cli"
	"github.com/GlitchedBaby/TrafficXia/internal/config"
)

func main() {
	runner := cli.NewRunner(config.DefaultConfig().SocketPath, os.Stdout, os.Stderr)
	os.Exit(runner.Run(context.Background(), os.Args[1:]))
}
