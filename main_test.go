package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchangecatalog/config"
	"exchangecatalog/logger"
)

func TestVarsFlag(t *testing.T) {
	v := varsFlag{}
	require.NoError(t, v.Set("pair=XXBTZUSD"))
	require.NoError(t, v.Set("base=BTC=X"))
	assert.Equal(t, "XXBTZUSD", v["pair"])
	assert.Equal(t, "BTC=X", v["base"])
	assert.Error(t, v.Set("novalue"))
	assert.Error(t, v.Set("=x"))
}

func TestNewAppFromSeed(t *testing.T) {
	cfg := config.Default()
	cfg.Catalog.SeedPath = "config/mappings.yml"
	cfg.Engine.ValidateOnStart = true

	a, err := newApp(context.Background(), &cfg, logger.GetLogger())
	require.NoError(t, err)
	defer a.store.Close()

	require.NotNil(t, a.recorder)
	vendors, err := a.engine.Vendors(context.Background())
	require.NoError(t, err)
	assert.Contains(t, vendors, "coinbase")
}

func TestStoreOption(t *testing.T) {
	opt := storeOption(config.StoreConfig{Driver: "sqlite", Database: "catalog.db", DSN: "file::memory:"})
	assert.Equal(t, "sqlite", opt.Driver)
	assert.Equal(t, "file::memory:", opt.DSN)
}
