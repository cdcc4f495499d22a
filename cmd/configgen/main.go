// configgen emits cluster config files for weftctl deployments.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/weft/internal/config"
	"github.com/danmuck/weft/internal/logging"
)

func main() {
	name := flag.String("name", "weft", "cluster name")
	nodes := flag.Int("nodes", 2, "node count")
	basePort := flag.Int("base-port", 9400, "first transport port; node i listens on base-port+i")
	workers := flag.Int("workers", 4, "workers per node")
	out := flag.String("out", "", "output path; empty writes to stdout")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := config.GenerateCluster(*name, *nodes, *basePort, *workers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	body, err := config.Render(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}

	if *out == "" {
		os.Stdout.Write(body)
		return
	}
	if err := os.WriteFile(*out, body, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}
