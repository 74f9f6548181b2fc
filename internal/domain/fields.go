package domain

// Field is a canonical fundamental field name.
// Provider adapters translate their native key spellings into these values
// at the response boundary; nothing outside an adapter ever sees a
// provider-native key.
type Field string

const (
	FieldRevenue            Field = "revenue"
	FieldNetIncome          Field = "net_income"
	FieldTotalAssets        Field = "total_assets"
	FieldTotalDebt          Field = "total_debt"
	FieldShareholdersEquity Field = "shareholders_equity"
	FieldSharesOutstanding  Field = "shares_outstanding"
	FieldEBITDA             Field = "ebitda"
	FieldCashAndEquivalents Field = "cash_and_equivalents"
	FieldCurrentAssets      Field = "current_assets"
	FieldCurrentLiabilities Field = "current_liabilities"
	FieldBookValuePerShare  Field = "book_value_per_share"
	FieldDilutedEPS         Field = "diluted_eps"
	FieldOperatingCashFlow  Field = "operating_cash_flow"
	FieldFreeCashFlow       Field = "free_cash_flow"
	FieldCapex              Field = "capex"
	FieldMarketCap          Field = "market_cap"
)

// AllFields lists every canonical field in a stable order.
// Used as the default "required fields" set for waterfall acquisition and
// for iteration in repositories.
var AllFields = []Field{
	FieldRevenue,
	FieldNetIncome,
	FieldTotalAssets,
	FieldTotalDebt,
	FieldShareholdersEquity,
	FieldSharesOutstanding,
	FieldEBITDA,
	FieldCashAndEquivalents,
	FieldCurrentAssets,
	FieldCurrentLiabilities,
	FieldBookValuePerShare,
	FieldDilutedEPS,
	FieldOperatingCashFlow,
	FieldFreeCashFlow,
	FieldCapex,
	FieldMarketCap,
}

// validFields is a set for O(1) field name validation.
var validFields = func() map[Field]bool {
	m := make(map[Field]bool, len(AllFields))
	for _, f := range AllFields {
		m[f] = true
	}
	return m
}()

// IsValidField returns true if f is one of the canonical fields.
func IsValidField(f Field) bool {
	return validFields[f]
}
