package schema

import (
	"sort"

	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

// ClusterID is the identifier of a correlation cluster.
type ClusterID string

// UnclusteredID collects assets no cluster claims.
const UnclusteredID ClusterID = "UNCLUSTERED"

// Asset describes a tradable spot asset.
type Asset struct {
	Symbol  string    `json:"symbol" yaml:"symbol"`
	Cluster ClusterID `json:"cluster" yaml:"cluster"`
}

// Registry maps assets to correlation clusters.
type Registry struct {
	assets   []Asset
	bySymbol map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bySymbol: make(map[string]int)}
}

// RegistryFromClusters builds a registry from an asset to cluster map.
func RegistryFromClusters(clusters map[string]ClusterID) (*Registry, error) {
	symbols := make([]string, 0, len(clusters))
	for s := range clusters {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	r := NewRegistry()
	for _, s := range symbols {
		if err := r.AddAsset(s, clusters[s]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddAsset registers an asset under a cluster.
func (r *Registry) AddAsset(symbol string, cluster ClusterID) error {
	if symbol == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "asset symbol is empty")
	}
	if cluster == "" {
		cluster = UnclusteredID
	}
	if _, ok := r.bySymbol[symbol]; ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "asset already exists: %s", symbol)
	}
	r.bySymbol[symbol] = len(r.assets)
	r.assets = append(r.assets, Asset{Symbol: symbol, Cluster: cluster})
	return nil
}

// Asset returns the asset by symbol.
func (r *Registry) Asset(symbol string) (Asset, bool) {
	i, ok := r.bySymbol[symbol]
	if !ok {
		return Asset{}, false
	}
	return r.assets[i], true
}

// ClusterOf returns the cluster of symbol, UnclusteredID when unknown.
func (r *Registry) ClusterOf(symbol string) ClusterID {
	if a, ok := r.Asset(symbol); ok {
		return a.Cluster
	}
	return UnclusteredID
}

// Clusters returns the distinct clusters in sorted order.
func (r *Registry) Clusters() []ClusterID {
	seen := make(map[ClusterID]struct{}, len(r.assets))
	out := make([]ClusterID, 0, len(r.assets))
	for _, a := range r.assets {
		if _, ok := seen[a.Cluster]; ok {
			continue
		}
		seen[a.Cluster] = struct{}{}
		out = append(out, a.Cluster)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AssetCount returns the number of assets in the registry.
func (r *Registry) AssetCount() int {
	return len(r.assets)
}

// AssetAt returns the asset by zero-based index.
func (r *Registry) AssetAt(index int) (Asset, bool) {
	if index < 0 || index >= len(r.assets) {
		return Asset{}, false
	}
	return r.assets[index], true
}
