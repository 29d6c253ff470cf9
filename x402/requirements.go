package x402

import (
	"math"
	"strconv"
)

// networkAsset describes the settlement asset used for a given network.
type networkAsset struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// networkAssets maps network identifiers to their USDC deployment. Prices
// are always denominated in USD, so the settlement asset is fixed per
// network.
var networkAssets = map[string]networkAsset{
	"base-sepolia": {
		Address:  "0xEB466342C4d449BC9f53A865D5Cb90586f405215",
		Name:     "USD Coin",
		Version:  "2",
		Decimals: 6,
	},
	"base": {
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Name:     "USD Coin",
		Version:  "2",
		Decimals: 6,
	},
}

// BuildRequirement derives the payment requirement for a resource priced in
// USD on the given network. It is deterministic and performs no I/O; the
// caller recomputes it on every request so price changes take effect
// immediately.
func BuildRequirement(price float64, network, resource, description, payTo string) (Requirement, error) {
	asset, ok := networkAssets[network]
	if !ok {
		return Requirement{}, NewPaymentError(ErrCodeNetworkNotSupported,
			"no settlement asset for network "+network, nil)
	}

	return Requirement{
		Scheme:            SchemeExact,
		Network:           network,
		MaxAmountRequired: AtomicAmount(price, asset.Decimals),
		Resource:          resource,
		Description:       description,
		MimeType:          "",
		PayTo:             payTo,
		MaxTimeoutSeconds: 60,
		Asset:             asset.Address,
		Extra: &AssetMetadata{
			Name:    asset.Name,
			Version: asset.Version,
		},
	}, nil
}

// AtomicAmount converts a display-denominated price into the smallest unit
// of an asset with the given number of decimals, flooring any remainder.
func AtomicAmount(price float64, decimals int) string {
	atomic := int64(math.Floor(price * math.Pow10(decimals)))
	if atomic < 0 {
		atomic = 0
	}
	return strconv.FormatInt(atomic, 10)
}
