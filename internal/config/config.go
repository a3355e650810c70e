package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// WarehouseType is the SQL warehouse flavour.
type WarehouseType string

const (
	Serverless WarehouseType = "serverless"
	Pro        WarehouseType = "pro"
	Classic    WarehouseType = "classic"
)

// WarehouseTypes lists every supported type in the order type variation runs them.
var WarehouseTypes = []WarehouseType{Serverless, Pro, Classic}

// WarehouseSize is a T-shirt size label accepted by the warehouse API.
type WarehouseSize string

const (
	Size2XSmall WarehouseSize = "2X-Small"
	SizeXSmall  WarehouseSize = "X-Small"
	SizeSmall   WarehouseSize = "Small"
	SizeMedium  WarehouseSize = "Medium"
	SizeLarge   WarehouseSize = "Large"
	SizeXLarge  WarehouseSize = "X-Large"
	Size2XLarge WarehouseSize = "2X-Large"
	Size3XLarge WarehouseSize = "3X-Large"
	Size4XLarge WarehouseSize = "4X-Large"
)

// WarehouseSizes lists the sizes from smallest to largest.
var WarehouseSizes = []WarehouseSize{
	Size2XSmall, SizeXSmall, SizeSmall, SizeMedium, SizeLarge,
	SizeXLarge, Size2XLarge, Size3XLarge, Size4XLarge,
}

// Choice selects how many warehouses a benchmark fans out across.
type Choice string

const (
	OneWarehouse           Choice = "one-warehouse"
	MultipleWarehouses     Choice = "multiple-warehouses"
	MultipleWarehousesSize Choice = "multiple-warehouses-size"
)

// LookupErrorPolicy decides what happens when the warehouse list call fails.
type LookupErrorPolicy string

const (
	LookupFail   LookupErrorPolicy = "fail"
	LookupCreate LookupErrorPolicy = "create"
)

// MaxClustersLimit is the upper bound the warehouse API accepts for max_num_clusters.
const MaxClustersLimit = 25

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Benchmark is the immutable set of inputs for one invocation. It is built
// once by Load and passed by value to every component.
type Benchmark struct {
	Host          string
	Token         string
	TokenSecretID string
	AWSRegion     string

	Choice        Choice
	Prefix        string
	Type          WarehouseType
	Sizes         []WarehouseSize
	Catalog       string
	Schema        string
	QueryPath     string
	Repetitions   int
	Concurrency   int
	MaxClusters   int
	ResultsCache  bool
	OnLookupError LookupErrorPolicy

	ChartFile    string
	StoreDSN     string
	S3URI        string
	PromTextfile string
}

// Variant is one warehouse configuration the benchmark runs against.
type Variant struct {
	Type WarehouseType `json:"type" yaml:"type"`
	Size WarehouseSize `json:"size" yaml:"size"`
	Name string        `json:"name" yaml:"name"`
}

// Load reads every key from v, applies defaults and validates the result.
func Load(v *viper.Viper) (Benchmark, error) {
	sizes, err := ParseSizes(v.GetString(KeyWarehouseSize))
	if err != nil {
		return Benchmark{}, err
	}
	host := v.GetString(KeyHost)
	if host == "" {
		host = v.GetString(envDatabricksHost)
	}
	token := v.GetString(KeyToken)
	if token == "" {
		token = v.GetString(envDatabricksToken)
	}

	b := Benchmark{
		Host:          host,
		Token:         token,
		TokenSecretID: v.GetString(KeyTokenSecretID),
		AWSRegion:     v.GetString(KeyAWSRegion),
		Choice:        Choice(v.GetString(KeyBenchmarkChoice)),
		Prefix:        v.GetString(KeyWarehousePrefix),
		Type:          WarehouseType(strings.ToLower(v.GetString(KeyWarehouseType))),
		Sizes:         sizes,
		Catalog:       v.GetString(KeyCatalog),
		Schema:        v.GetString(KeySchema),
		QueryPath:     v.GetString(KeyQueryPath),
		Repetitions:   v.GetInt(KeyRepetitions),
		Concurrency:   v.GetInt(KeyConcurrency),
		MaxClusters:   v.GetInt(KeyMaxClusters),
		ResultsCache:  v.GetBool(KeyResultsCache),
		OnLookupError: LookupErrorPolicy(v.GetString(KeyOnLookupError)),
		ChartFile:     v.GetString(KeyChartFile),
		StoreDSN:      v.GetString(KeyStoreDSN),
		S3URI:         v.GetString(KeyS3URI),
		PromTextfile:  v.GetString(KeyPromTextfile),
	}
	if err := b.Validate(); err != nil {
		return Benchmark{}, err
	}
	return b, nil
}

// Validate reports every problem with b joined into one error.
func (b Benchmark) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if b.Host == "" {
		invalid("host is required")
	}
	if b.Token == "" && b.TokenSecretID == "" {
		invalid("token or token_secret_id is required")
	}
	switch b.Choice {
	case OneWarehouse, MultipleWarehouses, MultipleWarehousesSize:
	default:
		invalid("unknown benchmark_choice %q", b.Choice)
	}
	if !validType(b.Type) {
		invalid("unknown warehouse_type %q", b.Type)
	}
	if len(b.Sizes) == 0 {
		invalid("at least one warehouse_size is required")
	}
	seen := make(map[WarehouseSize]bool, len(b.Sizes))
	for _, s := range b.Sizes {
		if !validSize(s) {
			invalid("unknown warehouse_size %q", s)
		}
		if seen[s] {
			invalid("warehouse_size %q is listed more than once", s)
		}
		seen[s] = true
	}
	if b.Catalog == "" || b.Schema == "" {
		invalid("catalog and schema are required")
	}
	if b.QueryPath == "" {
		invalid("query_path is required")
	}
	if b.Repetitions < 1 {
		invalid("query_repetition_count must be at least 1, got %d", b.Repetitions)
	}
	if b.Concurrency < 1 {
		invalid("concurrency must be at least 1, got %d", b.Concurrency)
	}
	if b.MaxClusters < 1 || b.MaxClusters > MaxClustersLimit {
		invalid("max_clusters must be between 1 and %d, got %d", MaxClustersLimit, b.MaxClusters)
	}
	switch b.OnLookupError {
	case LookupFail, LookupCreate:
	default:
		invalid("unknown on_lookup_error %q", b.OnLookupError)
	}
	return errors.Join(errs...)
}

// WithToken returns a copy of b carrying token.
func (b Benchmark) WithToken(token string) Benchmark {
	b.Token = token
	return b
}

// WarehouseName builds the name a warehouse of the given type and size is
// resolved or created under.
func (b Benchmark) WarehouseName(t WarehouseType, s WarehouseSize) string {
	return fmt.Sprintf("%s %s %s", b.Prefix, t, s)
}

// Variants expands the benchmark choice into the warehouses to run against.
// Single warehouse and type variation only use the first configured size.
func (b Benchmark) Variants() []Variant {
	size := SizeSmall
	if len(b.Sizes) > 0 {
		size = b.Sizes[0]
	}
	variant := func(t WarehouseType, s WarehouseSize) Variant {
		return Variant{Type: t, Size: s, Name: b.WarehouseName(t, s)}
	}

	switch b.Choice {
	case MultipleWarehouses:
		out := make([]Variant, 0, len(WarehouseTypes))
		for _, t := range WarehouseTypes {
			out = append(out, variant(t, size))
		}
		return out
	case MultipleWarehousesSize:
		out := make([]Variant, 0, len(b.Sizes))
		for _, s := range b.Sizes {
			out = append(out, variant(b.Type, s))
		}
		return out
	default:
		return []Variant{variant(b.Type, size)}
	}
}

// PoolSize is the number of runs allowed in flight at once.
func (b Benchmark) PoolSize() int {
	return len(b.Variants())
}

// BaseURL is the REST endpoint root. A host that already carries a scheme
// is used as is.
func (b Benchmark) BaseURL() string {
	h := strings.TrimRight(b.Host, "/")
	if strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://") {
		return h
	}
	return "https://" + h
}

// Hostname is the bare workspace host used by the SQL driver.
func (b Benchmark) Hostname() string {
	h := strings.TrimPrefix(strings.TrimPrefix(b.Host, "https://"), "http://")
	return strings.TrimRight(h, "/")
}

// ParseSizes splits a comma separated size list, trimming blanks. Names
// match case-insensitively and are normalized to their canonical form.
func ParseSizes(s string) ([]WarehouseSize, error) {
	var out []WarehouseSize
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		size, ok := lookupSize(part)
		if !ok {
			return nil, fmt.Errorf("%w: unknown warehouse_size %q", ErrInvalid, part)
		}
		out = append(out, size)
	}
	return out, nil
}

func lookupSize(s string) (WarehouseSize, bool) {
	for _, size := range WarehouseSizes {
		if strings.EqualFold(string(size), s) {
			return size, true
		}
	}
	return "", false
}

func validSize(s WarehouseSize) bool {
	for _, size := range WarehouseSizes {
		if size == s {
			return true
		}
	}
	return false
}

func validType(t WarehouseType) bool {
	for _, wt := range WarehouseTypes {
		if wt == t {
			return true
		}
	}
	return false
}
