package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_TierAssignment(t *testing.T) {
	tests := []struct {
		name       string
		strategies int
		spend      float64
		wantTier   Tier
		wantLimit  int
		wantAsset  AssetTier
	}{
		{"enterprise user", 12, 350, TierEnterprise, 200, AssetTierInstitutional},
		{"pro user", 6, 120, TierPro, 50, AssetTierProfessional},
		{"basic user", 2, 10, TierBasic, 10, AssetTierRetail},
		{"spend alone is not enough", 3, 500, TierBasic, 10, AssetTierRetail},
		{"strategies alone is not enough", 15, 50, TierBasic, 10, AssetTierRetail},
		{"exact enterprise boundary", 10, 300, TierEnterprise, 200, AssetTierInstitutional},
		{"exact pro boundary", 5, 100, TierPro, 50, AssetTierProfessional},
		{"just below enterprise falls to pro", 9, 400, TierPro, 50, AssetTierProfessional},
		{"brand new user", 0, 0, TierBasic, 10, AssetTierRetail},
		{"negative data defaults to basic", -1, -5, TierBasic, 10, AssetTierRetail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Resolve(tt.strategies, tt.spend)
			assert.Equal(t, tt.wantTier, p.Tier)
			assert.Equal(t, tt.wantLimit, p.ScanLimit)
			assert.Equal(t, tt.wantAsset, p.MaxAssetTier)
			assert.Greater(t, p.MaxConcurrent, 0)
		})
	}
}

func TestResolve_ConcurrencyScalesWithTier(t *testing.T) {
	basic := Resolve(1, 0)
	pro := Resolve(6, 150)
	ent := Resolve(20, 1000)

	assert.Less(t, basic.MaxConcurrent, pro.MaxConcurrent)
	assert.Less(t, pro.MaxConcurrent, ent.MaxConcurrent)
}

func TestAssetTier_Rank(t *testing.T) {
	assert.Greater(t, AssetTierInstitutional.Rank(), AssetTierProfessional.Rank())
	assert.Greater(t, AssetTierProfessional.Rank(), AssetTierRetail.Rank())

	// Unknown tiers rank as retail so gating stays restrictive.
	assert.Equal(t, AssetTierRetail.Rank(), AssetTier("unknown").Rank())
}
