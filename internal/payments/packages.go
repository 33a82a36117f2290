package payments

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency prices every credit package.
const DefaultCurrency = "USD"

// Package is a purchasable bundle of credits.
type Package struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Credits  int             `json:"credits"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	Currency string          `json:"currency"`
}

var creditPackages = map[string]Package{
	"starter":      newPackage("starter", "Starter", 100, "10.00"),
	"creator":      newPackage("creator", "Creator", 250, "22.50"),
	"professional": newPackage("professional", "Professional", 500, "40.00"),
	"studio":       newPackage("studio", "Studio", 1200, "90.00"),
	"enterprise":   newPackage("enterprise", "Enterprise", 2500, "175.00"),
}

func newPackage(id, name string, credits int, price string) Package {
	return Package{
		ID:       id,
		Name:     name,
		Credits:  credits,
		PriceUSD: decimal.RequireFromString(price),
		Currency: DefaultCurrency,
	}
}

// Packages lists the catalogue ordered by credit count.
func Packages() []Package {
	out := make([]Package, 0, len(creditPackages))
	for _, pkg := range creditPackages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}

// PackageByID resolves a package id case-insensitively.
func PackageByID(id string) (Package, bool) {
	pkg, ok := creditPackages[strings.ToLower(strings.TrimSpace(id))]
	return pkg, ok
}

// PricePerCredit returns the effective unit price of the package.
func (p Package) PricePerCredit() decimal.Decimal {
	if p.Credits <= 0 {
		return decimal.Zero
	}
	return p.PriceUSD.DivRound(decimal.NewFromInt(int64(p.Credits)), 4)
}
