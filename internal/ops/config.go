// Package ops loads the runtime configuration: accounts, versioned risk profiles, the
// asset registry, venue, store, metrics, lock and schedule settings.
package ops

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spotledger/internal/hashing"
	"spotledger/internal/recorder"
	"spotledger/internal/risk"
	"spotledger/internal/schema"
	"spotledger/internal/venue"
	"spotledger/pkg/conn"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendWAL      = "wal"
	BackendPostgres = "postgres"
)

const defaultSchedule = "5 * * * *"

// FileConfig mirrors the config file layout.
type FileConfig struct {
	CodeVersionHash string               `json:"codeVersionHash" yaml:"codeVersionHash"`
	Accounts        []AccountConfig      `json:"accounts" yaml:"accounts"`
	Profiles        []schema.RiskProfile `json:"profiles" yaml:"profiles"`
	Assets          []schema.Asset       `json:"assets" yaml:"assets"`
	Venue           VenueConfig          `json:"venue" yaml:"venue"`
	Store           StoreConfig          `json:"store" yaml:"store"`
	Metrics         MetricsConfig        `json:"metrics" yaml:"metrics"`
	Lock            LockConfig           `json:"lock" yaml:"lock"`
	Schedule        string               `json:"schedule" yaml:"schedule"`
}

// AccountConfig describes one account partition and where its inputs come from.
type AccountConfig struct {
	ID          string          `json:"id" yaml:"id"`
	Mode        string          `json:"mode" yaml:"mode"`
	OpeningCash decimal.Decimal `json:"openingCash" yaml:"openingCash"`
	Seed        int64           `json:"seed" yaml:"seed"`
	// Inputs is a directory of per-hour cycle input files. Empty selects the synthetic source.
	Inputs string `json:"inputs" yaml:"inputs"`
	// BasePrices seed the synthetic marks per asset symbol.
	BasePrices map[string]decimal.Decimal `json:"basePrices" yaml:"basePrices"`
}

// VenueConfig holds the paper venue and its breaker.
type VenueConfig struct {
	Paper   venue.PaperConfig   `json:"paper" yaml:"paper"`
	Breaker venue.BreakerConfig `json:"breaker" yaml:"breaker"`
}

// StoreConfig selects and configures the store backend.
type StoreConfig struct {
	Backend         string      `json:"backend" yaml:"backend"`
	Dir             string      `json:"dir" yaml:"dir"`
	SegmentMaxBytes int64       `json:"segmentMaxBytes" yaml:"segmentMaxBytes"`
	Postgres        conn.Option `json:"postgres" yaml:"postgres"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	Path string `json:"path" yaml:"path"`
}

// LockConfig selects the Redis partition lock when Redis.Addr is set.
type LockConfig struct {
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig describes the Redis lock connection.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	Prefix   string        `json:"prefix" yaml:"prefix"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
}

// Account is a resolved account partition.
type Account struct {
	Partition   schema.PartitionKey
	OpeningCash decimal.Decimal
	Seed        int64
	Inputs      string
	BasePrices  map[string]decimal.Decimal
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	CodeVersionHash string
	Accounts        []Account
	Profiles        *risk.Book
	Registry        *schema.Registry
	Venue           VenueConfig
	Store           StoreConfig
	Metrics         MetricsConfig
	Lock            LockConfig
	Schedule        string
	// ConfigHash is the canonical hash of the file config.
	ConfigHash string
}

// Account returns the resolved account for a partition.
func (l Loaded) Account(p schema.PartitionKey) (Account, bool) {
	for _, a := range l.Accounts {
		if a.Partition == p {
			return a, true
		}
	}
	return Account{}, false
}

// Recorder returns the WAL settings of the store.
func (l Loaded) Recorder() recorder.Config {
	cfg := recorder.DefaultConfig(l.Store.Dir)
	if l.Store.SegmentMaxBytes > 0 {
		cfg.SegmentMaxBytes = l.Store.SegmentMaxBytes
	}
	return cfg
}

// Load reads a JSON or YAML config file and resolves it.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if err := Decode(path, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Decode reads path into v. Files ending in .yaml or .yml are YAML, anything else JSON.
func Decode(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read file").With("path", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return errors.Wrap(err, "unmarshal yaml").With("path", path)
		}
	default:
		if err := json.Unmarshal(data, v); err != nil {
			return errors.Wrap(err, "unmarshal json").With("path", path)
		}
	}
	return nil
}

// Resolve validates a file config and builds the profile book and registry.
func Resolve(cfg FileConfig) (Loaded, error) {
	book, err := risk.NewBook(cfg.Profiles...)
	if err != nil {
		return Loaded{}, err
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		return Loaded{}, err
	}
	accounts, err := resolveAccounts(cfg.Accounts, book)
	if err != nil {
		return Loaded{}, err
	}
	if err := cfg.Venue.Paper.Validate(); err != nil {
		return Loaded{}, err
	}
	for _, p := range cfg.Profiles {
		if err := risk.ValidateVenueCosts(p, cfg.Venue.Paper.FeeRate, cfg.Venue.Paper.MaxSlippageRate); err != nil {
			return Loaded{}, err
		}
	}
	store, err := resolveStore(cfg.Store)
	if err != nil {
		return Loaded{}, err
	}
	hash, err := hashing.JSON(cfg)
	if err != nil {
		return Loaded{}, err
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	metrics := cfg.Metrics
	if metrics.Addr != "" && metrics.Path == "" {
		metrics.Path = "/metrics"
	}
	lock := cfg.Lock
	if lock.Redis.Addr != "" {
		if lock.Redis.Prefix == "" {
			lock.Redis.Prefix = "spotledger:lock"
		}
		if lock.Redis.TTL <= 0 {
			lock.Redis.TTL = 5 * time.Minute
		}
	}
	return Loaded{
		CodeVersionHash: cfg.CodeVersionHash,
		Accounts:        accounts,
		Profiles:        book,
		Registry:        registry,
		Venue:           cfg.Venue,
		Store:           store,
		Metrics:         metrics,
		Lock:            lock,
		Schedule:        schedule,
		ConfigHash:      hash,
	}, nil
}

// buildRegistry uses the explicit asset list, or the cluster maps of every profile.
func buildRegistry(cfg FileConfig) (*schema.Registry, error) {
	if len(cfg.Assets) > 0 {
		reg := schema.NewRegistry()
		for _, a := range cfg.Assets {
			if err := reg.AddAsset(a.Symbol, a.Cluster); err != nil {
				return nil, err
			}
		}
		return reg, nil
	}
	clusters := make(map[string]schema.ClusterID)
	for _, p := range cfg.Profiles {
		for asset, c := range p.Clusters {
			if prev, ok := clusters[asset]; ok && prev != c {
				return nil, errors.Wrapf(exception.ErrInvalidProfileConfiguration, "asset %s mapped to %s and %s", asset, prev, c)
			}
			clusters[asset] = c
		}
	}
	return schema.RegistryFromClusters(clusters)
}

func resolveAccounts(cfgs []AccountConfig, book *risk.Book) ([]Account, error) {
	if len(cfgs) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "no accounts configured")
	}
	seen := make(map[schema.PartitionKey]struct{}, len(cfgs))
	out := make([]Account, 0, len(cfgs))
	for _, c := range cfgs {
		if c.ID == "" {
			return nil, errors.Wrap(exception.ErrInvalidArgument, "account id is empty")
		}
		mode, err := schema.ParseRunMode(c.Mode)
		if err != nil {
			return nil, err
		}
		p := schema.PartitionKey{AccountID: c.ID, Mode: mode}
		if _, dup := seen[p]; dup {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "account %s configured twice", p)
		}
		seen[p] = struct{}{}
		if !c.OpeningCash.IsPositive() {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "account %s opening cash must be > 0", p)
		}
		if !containsAccount(book.Accounts(), c.ID) {
			return nil, errors.Wrapf(exception.ErrInvalidProfileConfiguration, "account %s has no risk profile", c.ID)
		}
		out = append(out, Account{Partition: p, OpeningCash: c.OpeningCash, Seed: c.Seed, Inputs: c.Inputs, BasePrices: c.BasePrices})
	}
	return out, nil
}

func resolveStore(cfg StoreConfig) (StoreConfig, error) {
	if cfg.Backend == "" {
		cfg.Backend = BackendWAL
	}
	switch cfg.Backend {
	case BackendMemory, BackendPostgres:
	case BackendWAL:
		if cfg.Dir == "" {
			cfg.Dir = "data/journal"
		}
	default:
		return StoreConfig{}, errors.Wrapf(exception.ErrInvalidArgument, "unknown store backend %q", cfg.Backend)
	}
	return cfg, nil
}

func containsAccount(accounts []string, id string) bool {
	for _, a := range accounts {
		if a == id {
			return true
		}
	}
	return false
}
