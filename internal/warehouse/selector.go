package warehouse

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/whbench/whbench/internal/config"
)

const (
	defaultAutoStopMins = 10

	warehouseTypePro     = "PRO"
	warehouseTypeClassic = "CLASSIC"
	channelCurrent       = "CHANNEL_NAME_CURRENT"
	channelPreview       = "CHANNEL_NAME_PREVIEW"
)

// ProvisionConfig describes a warehouse the engine should create before it
// runs.
type ProvisionConfig struct {
	Name           string               `json:"name"`
	Type           string               `json:"type"`
	Warehouse      config.WarehouseType `json:"warehouse"`
	Runtime        string               `json:"runtime"`
	Size           config.WarehouseSize `json:"size"`
	MinNumClusters int                  `json:"min_num_clusters"`
	MaxNumClusters int                  `json:"max_num_clusters"`
	EnablePhoton   bool                 `json:"enable_photon"`
}

// CreateRequest is the body of POST /api/2.0/sql/warehouses.
type CreateRequest struct {
	Name                    string   `json:"name"`
	ClusterSize             string   `json:"cluster_size"`
	MinNumClusters          int      `json:"min_num_clusters"`
	MaxNumClusters          int      `json:"max_num_clusters"`
	AutoStopMins            int      `json:"auto_stop_mins"`
	EnablePhoton            bool     `json:"enable_photon"`
	EnableServerlessCompute bool     `json:"enable_serverless_compute"`
	WarehouseType           string   `json:"warehouse_type"`
	Channel                 *Channel `json:"channel,omitempty"`
}

// Channel picks the warehouse runtime release channel.
type Channel struct {
	Name string `json:"name"`
}

// CreateRequest translates p into the API create body. Serverless
// warehouses are PRO warehouses with serverless compute enabled.
func (p ProvisionConfig) CreateRequest() CreateRequest {
	req := CreateRequest{
		Name:           p.Name,
		ClusterSize:    string(p.Size),
		MinNumClusters: p.MinNumClusters,
		MaxNumClusters: p.MaxNumClusters,
		AutoStopMins:   defaultAutoStopMins,
		EnablePhoton:   p.EnablePhoton,
	}
	switch p.Warehouse {
	case config.Serverless:
		req.WarehouseType = warehouseTypePro
		req.EnableServerlessCompute = true
	case config.Classic:
		req.WarehouseType = warehouseTypeClassic
	default:
		req.WarehouseType = warehouseTypePro
	}
	switch p.Runtime {
	case "preview":
		req.Channel = &Channel{Name: channelPreview}
	default:
		req.Channel = &Channel{Name: channelCurrent}
	}
	return req
}

// Target is where a run executes. Exactly one of HTTPPath and NewWarehouse
// is set.
type Target struct {
	WarehouseID  string
	HTTPPath     string
	NewWarehouse *ProvisionConfig
}

// NeedsCreate reports whether the warehouse has to be provisioned first.
func (t Target) NeedsCreate() bool {
	return t.NewWarehouse != nil
}

// HTTPPath is the SQL endpoint path of a warehouse.
func HTTPPath(id string) string {
	return "/sql/1.0/warehouses/" + id
}

// Select resolves the variant's warehouse name and returns either the
// existing warehouse's path or the configuration to create one. When the
// lookup itself fails the run aborts unless the configuration asks for
// creation instead.
func Select(ctx context.Context, r NameResolver, cfg config.Benchmark, v config.Variant, log *zap.Logger) (Target, error) {
	id, found, err := r.Resolve(ctx, v.Name)
	if err != nil {
		if cfg.OnLookupError != config.LookupCreate {
			return Target{}, err
		}
		log.Warn("warehouse lookup failed, provisioning a new warehouse",
			zap.String("name", v.Name), zap.Error(err))
		found = false
	}
	if found {
		return Target{WarehouseID: id, HTTPPath: HTTPPath(id)}, nil
	}
	if v.Name == "" {
		return Target{}, fmt.Errorf("select warehouse: variant has no name")
	}
	return Target{NewWarehouse: &ProvisionConfig{
		Name:           v.Name,
		Type:           "warehouse",
		Warehouse:      v.Type,
		Runtime:        "latest",
		Size:           v.Size,
		MinNumClusters: 1,
		MaxNumClusters: cfg.MaxClusters,
		EnablePhoton:   true,
	}}, nil
}
