package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

var ErrInvalidCluster = errors.New("config: invalid cluster")

// Cluster describes one deployment: every node's transport address plus the
// processor layout. The node list order assigns node IDs, so every node in
// a cluster must load an identically ordered file.
type Cluster struct {
	Name    string `toml:"name"`
	Workers int    `toml:"workers"`
	Nodes   []Node `toml:"nodes"`
}

type Node struct {
	Addr       string `toml:"addr"`
	Workers    int    `toml:"workers"`
	StatusAddr string `toml:"status_addr"`
}

func LoadCluster(path string) (Cluster, error) {
	var cfg Cluster
	data, err := os.ReadFile(path)
	if err != nil {
		return Cluster{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Cluster{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	applyDefaults(&cfg)
	if err := ValidateCluster(cfg); err != nil {
		return Cluster{}, err
	}
	return cfg, nil
}

// SingleNode is the in-process default used when no config file is given.
func SingleNode(workers int) Cluster {
	cfg := Cluster{
		Name:  "weft",
		Nodes: []Node{{Workers: workers}},
	}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Cluster) {
	if cfg.Name == "" {
		cfg.Name = "weft"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	for i := range cfg.Nodes {
		if cfg.Nodes[i].Workers == 0 {
			cfg.Nodes[i].Workers = cfg.Workers
		}
	}
}

func ValidateCluster(cfg Cluster) error {
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidCluster)
	}
	for i, n := range cfg.Nodes {
		if n.Workers <= 0 {
			return fmt.Errorf("%w: node %d has %d workers", ErrInvalidCluster, i, n.Workers)
		}
		if len(cfg.Nodes) > 1 && n.Addr == "" {
			return fmt.Errorf("%w: node %d missing addr in multi-node cluster", ErrInvalidCluster, i)
		}
	}
	seen := make(map[string]int)
	for i, n := range cfg.Nodes {
		if n.Addr == "" {
			continue
		}
		if j, dup := seen[n.Addr]; dup {
			return fmt.Errorf("%w: nodes %d and %d share addr %q", ErrInvalidCluster, j, i, n.Addr)
		}
		seen[n.Addr] = i
	}
	return nil
}

// Addrs returns the transport address list indexed by node ID.
func (c Cluster) Addrs() []string {
	out := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		out[i] = n.Addr
	}
	return out
}
