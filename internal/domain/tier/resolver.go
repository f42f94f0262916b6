// Package tier computes a user's scan tier from portfolio activity and spend.
// Resolution is pure: absent or partial data always lands on the most
// restrictive tier rather than failing the scan.
package tier

// Tier is the user classification bounding scan work.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// AssetTier bounds the symbol universe a scan may consider.
type AssetTier string

const (
	AssetTierRetail        AssetTier = "retail"
	AssetTierProfessional  AssetTier = "professional"
	AssetTierInstitutional AssetTier = "institutional"
)

// Rank orders asset tiers for gating checks (higher includes lower).
func (a AssetTier) Rank() int {
	switch a {
	case AssetTierInstitutional:
		return 3
	case AssetTierProfessional:
		return 2
	default:
		return 1
	}
}

// Profile is the derived scan allowance for one user. Never persisted;
// recomputed per scan request.
type Profile struct {
	Tier             Tier      `json:"tier"`
	MaxAssetTier     AssetTier `json:"max_asset_tier"`
	ScanLimit        int       `json:"scan_limit"`
	MaxConcurrent    int       `json:"max_concurrent_strategies"`
	ActiveStrategies int       `json:"active_strategies"`
	MonthlySpendUSD  float64   `json:"monthly_spend_usd"`
}

// Thresholds for tier assignment. Tunable, fixed defaults.
const (
	enterpriseMinStrategies = 10
	enterpriseMinSpendUSD   = 300.0
	proMinStrategies        = 5
	proMinSpendUSD          = 100.0
)

// Per-tier bounds.
const (
	basicScanLimit      = 10
	proScanLimit        = 50
	enterpriseScanLimit = 200

	basicConcurrency      = 4
	proConcurrency        = 8
	enterpriseConcurrency = 16
)

// Resolve computes the scan profile for a user given their active strategy
// count and monthly spend. Pure function; no error path.
func Resolve(activeStrategies int, monthlySpendUSD float64) Profile {
	p := Profile{
		ActiveStrategies: activeStrategies,
		MonthlySpendUSD:  monthlySpendUSD,
	}

	switch {
	case activeStrategies >= enterpriseMinStrategies && monthlySpendUSD >= enterpriseMinSpendUSD:
		p.Tier = TierEnterprise
		p.MaxAssetTier = AssetTierInstitutional
		p.ScanLimit = enterpriseScanLimit
		p.MaxConcurrent = enterpriseConcurrency
	case activeStrategies >= proMinStrategies && monthlySpendUSD >= proMinSpendUSD:
		p.Tier = TierPro
		p.MaxAssetTier = AssetTierProfessional
		p.ScanLimit = proScanLimit
		p.MaxConcurrent = proConcurrency
	default:
		p.Tier = TierBasic
		p.MaxAssetTier = AssetTierRetail
		p.ScanLimit = basicScanLimit
		p.MaxConcurrent = basicConcurrency
	}

	return p
}
