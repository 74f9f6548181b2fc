// Package ratios computes financial ratios from a merged fundamental
// snapshot and the latest price. Every ratio has an explicit
// domain-validity rule instead of raising on bad input: the output is
// always (value-or-null, reason), so downstream consumers can tell "not
// computable" from "computed as zero".
package ratios

import (
	"math"

	"github.com/aristath/harvest/internal/domain"
)

// Ratio names, as persisted and served.
const (
	RatioPE           = "pe"
	RatioPB           = "pb"
	RatioPS           = "ps"
	RatioEVEBITDA     = "ev_ebitda"
	RatioROE          = "roe"
	RatioROA          = "roa"
	RatioDebtToEquity = "debt_to_equity"
	RatioGrahamNumber = "graham_number"
)

// Display caps. Values beyond a cap are clamped and flagged "capped"
// rather than discarded.
const (
	peCap = 999.0
	psCap = 50.0
)

// Reason codes attached to every ratio output.
const (
	ReasonOK                 = "ok"
	ReasonCapped             = "capped"
	ReasonNegativeEarnings   = "negative earnings"
	ReasonNonPositiveEquity  = "non-positive equity"
	ReasonNonPositiveRevenue = "non-positive revenue"
	ReasonNonPositiveEBITDA  = "non-positive ebitda"
	ReasonNonPositiveAssets  = "non-positive assets"
	ReasonNegativeFactors    = "non-positive factors"
	ReasonMissingInput       = "missing input"
)

// Calculate computes all ratios for a snapshot and the latest close price.
// Pure and stateless: identical inputs always yield identical output.
func Calculate(snapshot *domain.FundamentalSnapshot, price float64) *domain.RatioSet {
	set := &domain.RatioSet{
		Ticker: snapshot.Ticker,
		Date:   snapshot.Date,
		Ratios: make(map[string]domain.RatioValue, 8),
	}

	eps := snapshot.Get(domain.FieldDilutedEPS)
	equity := snapshot.Get(domain.FieldShareholdersEquity)
	revenue := snapshot.Get(domain.FieldRevenue)
	ebitda := snapshot.Get(domain.FieldEBITDA)
	netIncome := snapshot.Get(domain.FieldNetIncome)
	assets := snapshot.Get(domain.FieldTotalAssets)
	debt := snapshot.Get(domain.FieldTotalDebt)
	cash := snapshot.Get(domain.FieldCashAndEquivalents)
	marketCap := snapshot.Get(domain.FieldMarketCap)
	bookValue := snapshot.Get(domain.FieldBookValuePerShare)

	set.Ratios[RatioPE] = priceToEarnings(price, eps)
	set.Ratios[RatioPB] = dividePositiveDenominator(marketCap, equity, ReasonNonPositiveEquity)
	set.Ratios[RatioPS] = priceToSales(marketCap, revenue)
	set.Ratios[RatioEVEBITDA] = evToEBITDA(marketCap, debt, cash, ebitda)
	set.Ratios[RatioROE] = dividePositiveDenominator(netIncome, equity, ReasonNonPositiveEquity)
	set.Ratios[RatioROA] = dividePositiveDenominator(netIncome, assets, ReasonNonPositiveAssets)
	set.Ratios[RatioDebtToEquity] = dividePositiveDenominator(debt, equity, ReasonNonPositiveEquity)
	set.Ratios[RatioGrahamNumber] = grahamNumber(eps, bookValue)

	return set
}

// priceToEarnings is price / diluted EPS, null for eps <= 0, capped at 999.
func priceToEarnings(price float64, eps *float64) domain.RatioValue {
	if eps == nil {
		return null(ReasonMissingInput)
	}
	if *eps <= 0 {
		return null(ReasonNegativeEarnings)
	}
	return capped(price / *eps, peCap)
}

// priceToSales is market cap / trailing revenue, null for revenue <= 0,
// capped at 50 for display.
func priceToSales(marketCap, revenue *float64) domain.RatioValue {
	if marketCap == nil || revenue == nil {
		return null(ReasonMissingInput)
	}
	if *revenue <= 0 {
		return null(ReasonNonPositiveRevenue)
	}
	return capped(*marketCap / *revenue, psCap)
}

// evToEBITDA is (market cap + total debt - cash) / ebitda, null for
// ebitda <= 0. Missing debt or cash default to zero: enterprise value
// degrades gracefully toward market cap.
func evToEBITDA(marketCap, debt, cash, ebitda *float64) domain.RatioValue {
	if marketCap == nil || ebitda == nil {
		return null(ReasonMissingInput)
	}
	if *ebitda <= 0 {
		return null(ReasonNonPositiveEBITDA)
	}
	ev := *marketCap + deref(debt) - deref(cash)
	return ok(ev / *ebitda)
}

// grahamNumber is sqrt(15 * eps * book value per share), null when either
// factor is <= 0.
func grahamNumber(eps, bookValue *float64) domain.RatioValue {
	if eps == nil || bookValue == nil {
		return null(ReasonMissingInput)
	}
	if *eps <= 0 || *bookValue <= 0 {
		return null(ReasonNegativeFactors)
	}
	return ok(math.Sqrt(15 * *eps * *bookValue))
}

// dividePositiveDenominator is numerator / denominator with a null rule on
// the denominator: <= 0 yields null with the given reason.
func dividePositiveDenominator(numerator, denominator *float64, reason string) domain.RatioValue {
	if numerator == nil || denominator == nil {
		return null(ReasonMissingInput)
	}
	if *denominator <= 0 {
		return null(reason)
	}
	return ok(*numerator / *denominator)
}

func ok(v float64) domain.RatioValue {
	return domain.RatioValue{Value: &v, Reason: ReasonOK}
}

func capped(v, limit float64) domain.RatioValue {
	if v > limit {
		c := limit
		return domain.RatioValue{Value: &c, Reason: ReasonCapped, Capped: true}
	}
	return ok(v)
}

func null(reason string) domain.RatioValue {
	return domain.RatioValue{Reason: reason}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
