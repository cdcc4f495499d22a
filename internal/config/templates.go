package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// GenerateCluster builds a localhost cluster config: n nodes on consecutive
// ports starting at basePort, workers processors each. Used by configgen.
func GenerateCluster(name string, n, basePort, workers int) (Cluster, error) {
	if n <= 0 {
		return Cluster{}, fmt.Errorf("%w: %d nodes", ErrInvalidCluster, n)
	}
	cfg := Cluster{Name: name, Workers: workers}
	for i := 0; i < n; i++ {
		cfg.Nodes = append(cfg.Nodes, Node{
			Addr: fmt.Sprintf("127.0.0.1:%d", basePort+i),
		})
	}
	applyDefaults(&cfg)
	if err := ValidateCluster(cfg); err != nil {
		return Cluster{}, err
	}
	return cfg, nil
}

// Render serializes a cluster config to TOML.
func Render(cfg Cluster) ([]byte, error) {
	return toml.Marshal(cfg)
}
