package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/memstore"
	"github.com/mtlprog/fundo/internal/registry"
)

func testApp(t *testing.T) *app {
	t.Helper()
	reg := registry.NewService(memstore.New().Registry())
	ctx := context.Background()
	for _, spec := range []domain.AssetSpec{
		{Symbol: "BTC", ExternalPriceID: "bitcoin"},
		{Symbol: "ADA", ExternalPriceID: "cardano"},
		{Symbol: "HOSKY"},
	} {
		_, err := reg.EnsureAsset(ctx, spec)
		require.NoError(t, err)
	}
	return &app{registry: reg}
}

func symbolsOf(assets []domain.Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Symbol
	}
	return out
}

func TestResolveAssetsDefaultsToPriceable(t *testing.T) {
	a := testApp(t)

	assets, err := resolveAssets(context.Background(), a, " ")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ADA"}, symbolsOf(assets))
}

func TestResolveAssetsBySymbol(t *testing.T) {
	a := testApp(t)

	assets, err := resolveAssets(context.Background(), a, "ada, hosky,")
	require.NoError(t, err)
	assert.Equal(t, []string{"ADA", "HOSKY"}, symbolsOf(assets))
}

func TestResolveAssetsUnknownSymbol(t *testing.T) {
	a := testApp(t)

	_, err := resolveAssets(context.Background(), a, "BTC,DOGE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Contains(t, err.Error(), "DOGE")
}

func TestDecimalFlag(t *testing.T) {
	d, err := decimalFlag("0.95")
	require.NoError(t, err)
	assert.Equal(t, "0.95", d.String())

	_, err = decimalFlag("abc")
	assert.Error(t, err)
	_, err = decimalFlag("-1")
	assert.Error(t, err)
}
