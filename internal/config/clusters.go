package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Cluster is one known cluster node in the directory.
type Cluster struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    string `yaml:"port"`
}

// HostPort returns the dialable address of the node.
func (c Cluster) HostPort() string {
	return net.JoinHostPort(c.Address, c.Port)
}

// DefaultClusters is the built-in node directory, used when no clusters
// file is configured.
var DefaultClusters = []Cluster{
	{Name: "WW1R_9", Address: "dxc.ww1r.com", Port: "7300"},
	{Name: "VE7CC", Address: "dxc.ve7cc.net", Port: "23"},
	{Name: "dxc_middlebrook_ca", Address: "dxc.middlebrook.ca", Port: "8000"},
	{Name: "WA9PIE-2", Address: "hrd.wa9pie.net", Port: "8000"},
	{Name: "AE5E", Address: "dxspots.com", Port: "23"},
	{Name: "W6CUA", Address: "w6cua.no-ip.org", Port: "7300"},
	{Name: "W6KK", Address: "w6kk.zapto.org", Port: "7300"},
	{Name: "N5UXT", Address: "dxc.n5uxt.org", Port: "23"},
	{Name: "GB7DXS", Address: "81.149.0.149", Port: "7300"},
	{Name: "FT8 RBN", Address: "telnet.reversebeacon.net", Port: "7001"},
	{Name: "All RBN", Address: "telnet.reversebeacon.net", Port: "7000"},
}

// Directory is a reloadable name-to-address table of cluster nodes.
type Directory struct {
	mu       sync.RWMutex
	clusters []Cluster
}

// NewDirectory builds a directory from the given nodes, falling back to the
// built-in list when nodes is empty.
func NewDirectory(nodes []Cluster) *Directory {
	if len(nodes) == 0 {
		nodes = DefaultClusters
	}
	return &Directory{clusters: nodes}
}

// LoadClusters reads a YAML node list.
func LoadClusters(path string) ([]Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clusters file: %w", err)
	}
	var nodes []Cluster
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse clusters file: %w", err)
	}
	return nodes, nil
}

// Replace swaps the node list.
func (d *Directory) Replace(nodes []Cluster) {
	d.mu.Lock()
	d.clusters = nodes
	d.mu.Unlock()
}

// Clusters returns a copy of the node list.
func (d *Directory) Clusters() []Cluster {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Cluster, len(d.clusters))
	copy(out, d.clusters)
	return out
}

// Resolve maps a directory name to its host:port. An argument that already
// looks like host:port passes through untouched.
func (d *Directory) Resolve(nameOrAddr string) (string, error) {
	if strings.Contains(nameOrAddr, ":") {
		return nameOrAddr, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.clusters {
		if strings.EqualFold(c.Name, nameOrAddr) {
			return c.HostPort(), nil
		}
	}
	return "", fmt.Errorf("unknown cluster %q", nameOrAddr)
}

// WatchClusters reloads the directory whenever the clusters file changes,
// until the context is cancelled.
func WatchClusters(ctx context.Context, path string, dir *Directory, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			nodes, err := LoadClusters(path)
			if err != nil {
				logger.Warn("clusters file reload failed", zap.Error(err))
				continue
			}
			dir.Replace(nodes)
			logger.Info("clusters file reloaded", zap.Int("nodes", len(nodes)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("clusters file watch error", zap.Error(err))
		}
	}
}
