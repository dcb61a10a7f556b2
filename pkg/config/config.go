package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// Environment variable names for the snapshot CLI
const (
	EnvSnapshotConfig      = "SNAPSHOT_CONFIG"
	EnvSnapshotOutDir      = "SNAPSHOT_OUT_DIR"
	EnvSnapshotStorageType = "SNAPSHOT_STORAGE_TYPE"
	EnvSnapshotDataPath    = "SNAPSHOT_DATA_PATH"
	EnvSnapshotRedisAddr   = "SNAPSHOT_REDIS_ADDRESS"
	EnvSnapshotRedisPass   = "SNAPSHOT_REDIS_PASSWORD"
	EnvSnapshotConcurrency = "SNAPSHOT_CONCURRENCY"
	EnvSnapshotVerbose     = "SNAPSHOT_VERBOSE"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
	ChainId_Arbitrum        ChainId = 42161
	ChainId_Base            ChainId = 8453
	ChainId_Polygon         ChainId = 137
	ChainId_BSC             ChainId = 56
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
	ChainName_Arbitrum        ChainName = "arbitrum"
	ChainName_Base            ChainName = "base"
	ChainName_Polygon         ChainName = "polygon"
	ChainName_BSC             ChainName = "bsc"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
	ChainId_Arbitrum:        ChainName_Arbitrum,
	ChainId_Base:            ChainName_Base,
	ChainId_Polygon:         ChainName_Polygon,
	ChainId_BSC:             ChainName_BSC,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
	ChainName_Arbitrum:        ChainId_Arbitrum,
	ChainName_Base:            ChainId_Base,
	ChainName_Polygon:         ChainId_Polygon,
	ChainName_BSC:             ChainId_BSC,
}

// Default log query chunk sizes by chain. Providers cap eth_getLogs ranges differently.
const (
	DefaultChunkSize_Mainnet = 2000
	DefaultChunkSize_L2      = 10000
	DefaultChunkSize_BSC     = 5000
)

// GetDefaultChunkSizeForChain returns the block range used per log query on a chain
func GetDefaultChunkSizeForChain(chain ChainName) uint64 {
	switch chain {
	case ChainName_Arbitrum, ChainName_Base, ChainName_Polygon:
		return DefaultChunkSize_L2
	case ChainName_BSC:
		return DefaultChunkSize_BSC
	default:
		return DefaultChunkSize_Mainnet
	}
}

type SourceKind string

const (
	SourceKindEvents SourceKind = "events"
	SourceKindGraph  SourceKind = "graph"
)

// SourceConfig describes one contribution source.
type SourceConfig struct {
	// Name is the contribution source name recorded per account, e.g. "mint-events-mainnet"
	Name string     `json:"name" yaml:"name"`
	Kind SourceKind `json:"kind" yaml:"kind"`

	// Event sources
	Chain     ChainName       `json:"chain,omitempty" yaml:"chain,omitempty"`
	Contract  string          `json:"contract,omitempty" yaml:"contract,omitempty"`
	Event     types.EventKind `json:"event,omitempty" yaml:"event,omitempty"`
	FromBlock uint64          `json:"fromBlock,omitempty" yaml:"fromBlock,omitempty"`
	// ToBlock 0 means the latest block at scan time
	ToBlock   uint64 `json:"toBlock,omitempty" yaml:"toBlock,omitempty"`
	ChunkSize uint64 `json:"chunkSize,omitempty" yaml:"chunkSize,omitempty"`

	// Graph indexer sources
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Query        string `json:"query,omitempty" yaml:"query,omitempty"`
	ResultField  string `json:"resultField,omitempty" yaml:"resultField,omitempty"`
	AccountField string `json:"accountField,omitempty" yaml:"accountField,omitempty"`
	BalanceField string `json:"balanceField,omitempty" yaml:"balanceField,omitempty"`
	PageSize     int    `json:"pageSize,omitempty" yaml:"pageSize,omitempty"`
	MaxPages     int    `json:"maxPages,omitempty" yaml:"maxPages,omitempty"`
}

// RetryConfig mirrors retry.Policy in a serializable form.
type RetryConfig struct {
	MaxAttempts    int           `json:"maxAttempts" yaml:"maxAttempts"`
	InitialBackoff time.Duration `json:"initialBackoff" yaml:"initialBackoff"`
	MaxBackoff     time.Duration `json:"maxBackoff" yaml:"maxBackoff"`
	Multiplier     float64       `json:"multiplier" yaml:"multiplier"`
	Jitter         float64       `json:"jitter" yaml:"jitter"`
}

type StorageType string

const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeBadger StorageType = "badger"
	StorageTypeRedis  StorageType = "redis"
)

type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

type StorageConfig struct {
	Type     StorageType `json:"type" yaml:"type"`
	DataPath string      `json:"dataPath,omitempty" yaml:"dataPath,omitempty"`
	Redis    RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// SnapshotConfig is everything a snapshot run needs. Nothing in the builder reads the
// environment or package-level state; it all comes through here.
type SnapshotConfig struct {
	Sources      []SourceConfig       `json:"sources" yaml:"sources"`
	RPCEndpoints map[ChainName]string `json:"rpcEndpoints" yaml:"rpcEndpoints"`
	HashFunction string               `json:"hashFunction" yaml:"hashFunction"`

	Retry RetryConfig `json:"retry" yaml:"retry"`

	// Concurrency caps in-flight network requests across every source of a run
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// RequestsPerSecond paces requests per upstream endpoint, shared by the sources using it;
	// 0 disables pacing
	RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond"`

	// IncludeZeroBalances puts zero-balance accounts in the tree
	IncludeZeroBalances bool `json:"includeZeroBalances" yaml:"includeZeroBalances"`

	Storage StorageConfig `json:"storage" yaml:"storage"`

	Debug bool `json:"debug" yaml:"debug"`
}

// Load reads a YAML config file and fills in defaults.
func Load(path string) (*SnapshotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes and fills in defaults.
func Parse(data []byte) (*SnapshotConfig, error) {
	cfg := &SnapshotConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every unset tunable.
func (c *SnapshotConfig) ApplyDefaults() {
	if c.HashFunction == "" {
		c.HashFunction = "keccak256"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = 10 * time.Second
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = 2
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageTypeMemory
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		switch s.Kind {
		case SourceKindEvents:
			if s.ChunkSize == 0 {
				s.ChunkSize = GetDefaultChunkSizeForChain(s.Chain)
			}
		case SourceKindGraph:
			if s.PageSize <= 0 {
				s.PageSize = 1000
			}
			if s.AccountField == "" {
				s.AccountField = "id"
			}
			if s.BalanceField == "" {
				s.BalanceField = "balance"
			}
		}
	}
}

// Validate validates the snapshot configuration
func (c *SnapshotConfig) Validate() error {
	var allErrors field.ErrorList

	if c.HashFunction != "keccak256" {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("hashFunction"), c.HashFunction, []string{"keccak256"}))
	}
	if c.Concurrency < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("concurrency"), c.Concurrency, "must be at least 1"))
	}
	if c.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestsPerSecond"), c.RequestsPerSecond, "must not be negative"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("retry", "jitter"), c.Retry.Jitter, "must be between 0 and 1"))
	}

	if len(c.Sources) == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("sources"), "at least one source is required"))
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		path := field.NewPath("sources").Index(i)
		if s.Name == "" {
			allErrors = append(allErrors, field.Required(path.Child("name"), "name is required"))
		} else if seen[s.Name] {
			allErrors = append(allErrors, field.Duplicate(path.Child("name"), s.Name))
		}
		seen[s.Name] = true

		switch s.Kind {
		case SourceKindEvents:
			allErrors = append(allErrors, c.validateEventSource(path, s)...)
		case SourceKindGraph:
			allErrors = append(allErrors, validateGraphSource(path, s)...)
		default:
			allErrors = append(allErrors, field.NotSupported(path.Child("kind"), s.Kind, []string{string(SourceKindEvents), string(SourceKindGraph)}))
		}
	}

	allErrors = append(allErrors, c.Storage.validate(field.NewPath("storage"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func (c *SnapshotConfig) validateEventSource(path *field.Path, s SourceConfig) field.ErrorList {
	var errs field.ErrorList
	if _, ok := ChainNameToId[s.Chain]; !ok {
		errs = append(errs, field.Invalid(path.Child("chain"), s.Chain, "unsupported chain"))
	} else if c.RPCEndpoints[s.Chain] == "" {
		errs = append(errs, field.Required(field.NewPath("rpcEndpoints").Key(string(s.Chain)), "no rpc endpoint for chain"))
	}
	if !common.IsHexAddress(s.Contract) {
		errs = append(errs, field.Invalid(path.Child("contract"), s.Contract, "must be a hex address"))
	}
	switch s.Event {
	case types.EventKindTransfer, types.EventKindMint, types.EventKindStaked:
	default:
		errs = append(errs, field.NotSupported(path.Child("event"), s.Event,
			[]string{string(types.EventKindTransfer), string(types.EventKindMint), string(types.EventKindStaked)}))
	}
	if s.ToBlock != 0 && s.ToBlock < s.FromBlock {
		errs = append(errs, field.Invalid(path.Child("toBlock"), s.ToBlock, "must not be before fromBlock"))
	}
	if s.ChunkSize == 0 {
		errs = append(errs, field.Invalid(path.Child("chunkSize"), s.ChunkSize, "must be positive"))
	}
	return errs
}

func validateGraphSource(path *field.Path, s SourceConfig) field.ErrorList {
	var errs field.ErrorList
	if s.Endpoint == "" {
		errs = append(errs, field.Required(path.Child("endpoint"), "endpoint is required"))
	}
	if s.Query == "" {
		errs = append(errs, field.Required(path.Child("query"), "query is required"))
	}
	if s.ResultField == "" {
		errs = append(errs, field.Required(path.Child("resultField"), "resultField is required"))
	}
	if s.PageSize < 1 {
		errs = append(errs, field.Invalid(path.Child("pageSize"), s.PageSize, "must be positive"))
	}
	if s.MaxPages < 0 {
		errs = append(errs, field.Invalid(path.Child("maxPages"), s.MaxPages, "must not be negative"))
	}
	return errs
}

func (s StorageConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	switch s.Type {
	case StorageTypeMemory:
	case StorageTypeBadger:
		if s.DataPath == "" {
			errs = append(errs, field.Required(path.Child("dataPath"), "dataPath is required for badger storage"))
		}
	case StorageTypeRedis:
		if s.Redis.Address == "" {
			errs = append(errs, field.Required(path.Child("redis", "address"), "address is required for redis storage"))
		}
		if s.Redis.DB < 0 || s.Redis.DB > 15 {
			errs = append(errs, field.Invalid(path.Child("redis", "db"), s.Redis.DB, "must be between 0 and 15"))
		}
	default:
		errs = append(errs, field.NotSupported(path.Child("type"), s.Type,
			[]string{string(StorageTypeMemory), string(StorageTypeBadger), string(StorageTypeRedis)}))
	}
	return errs
}

// SourceNames returns the configured source names in order.
func (c *SnapshotConfig) SourceNames() []string {
	names := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		names[i] = s.Name
	}
	return names
}
