package warehouse

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/whbench/whbench/internal/config"
)

type stubResolver struct {
	ids map[string]string
	err error
}

func (s stubResolver) Resolve(_ context.Context, name string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	id, ok := s.ids[name]
	return id, ok, nil
}

func testConfig() config.Benchmark {
	return config.Benchmark{
		Prefix:        "demo",
		Type:          config.Serverless,
		Sizes:         []config.WarehouseSize{config.SizeSmall},
		MaxClusters:   3,
		OnLookupError: config.LookupFail,
	}
}

func TestSelect_Existing(t *testing.T) {
	cfg := testConfig()
	v := cfg.Variants()[0]
	r := stubResolver{ids: map[string]string{"demo serverless Small": "abc123"}}

	target, err := Select(context.Background(), r, cfg, v, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if target.NeedsCreate() {
		t.Error("existing warehouse should not need creation")
	}
	if target.HTTPPath != "/sql/1.0/warehouses/abc123" {
		t.Errorf("HTTPPath = %q", target.HTTPPath)
	}
	if target.WarehouseID != "abc123" {
		t.Errorf("WarehouseID = %q", target.WarehouseID)
	}
}

func TestSelect_Missing(t *testing.T) {
	cfg := testConfig()
	v := cfg.Variants()[0]

	target, err := Select(context.Background(), stubResolver{}, cfg, v, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if target.HTTPPath != "" {
		t.Errorf("HTTPPath should be empty, got %q", target.HTTPPath)
	}
	p := target.NewWarehouse
	if p == nil {
		t.Fatal("expected a provision config")
	}
	if p.MaxNumClusters != 3 || p.MinNumClusters != 1 {
		t.Errorf("clusters = %d..%d, want 1..3", p.MinNumClusters, p.MaxNumClusters)
	}
	if p.Name != "demo serverless Small" || p.Type != "warehouse" || p.Runtime != "latest" || !p.EnablePhoton {
		t.Errorf("unexpected provision config: %+v", p)
	}
}

func TestSelect_LookupFailure(t *testing.T) {
	cfg := testConfig()
	v := cfg.Variants()[0]
	lookupErr := errors.New("list warehouses: 500")

	if _, err := Select(context.Background(), stubResolver{err: lookupErr}, cfg, v, zap.NewNop()); !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error with fail policy, got %v", err)
	}

	cfg.OnLookupError = config.LookupCreate
	target, err := Select(context.Background(), stubResolver{err: lookupErr}, cfg, v, zap.NewNop())
	if err != nil {
		t.Fatalf("create policy should not fail: %v", err)
	}
	if !target.NeedsCreate() {
		t.Error("create policy should provision a warehouse")
	}
}

func TestProvisionConfig_CreateRequest(t *testing.T) {
	tests := []struct {
		typ            config.WarehouseType
		wantType       string
		wantServerless bool
	}{
		{config.Serverless, "PRO", true},
		{config.Pro, "PRO", false},
		{config.Classic, "CLASSIC", false},
	}
	for _, tt := range tests {
		p := ProvisionConfig{Name: "n", Warehouse: tt.typ, Runtime: "latest", Size: config.SizeMedium, MinNumClusters: 1, MaxNumClusters: 4, EnablePhoton: true}
		req := p.CreateRequest()
		if req.WarehouseType != tt.wantType || req.EnableServerlessCompute != tt.wantServerless {
			t.Errorf("%s: got type=%s serverless=%v", tt.typ, req.WarehouseType, req.EnableServerlessCompute)
		}
		if req.ClusterSize != "Medium" || req.MaxNumClusters != 4 || !req.EnablePhoton {
			t.Errorf("%s: unexpected request %+v", tt.typ, req)
		}
		if req.Channel == nil || req.Channel.Name != "CHANNEL_NAME_CURRENT" {
			t.Errorf("%s: unexpected channel %+v", tt.typ, req.Channel)
		}
	}
}
