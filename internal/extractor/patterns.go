package extractor

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maltedev/lmpc-scraper/internal/models"
)

const (
	amount    = `(?:₹|rs\.?|inr)?\s*\d[\d,]*(?:\.\d{1,2})?`
	curAmount = `(?:₹|rs\.?|inr)\s*\d[\d,]*(?:\.\d{1,2})?`
	qtyUnit   = `(?:kilograms?|grams?|gms|gm|kg|mg|g|millilitres?|milliliters?|ml|litres?|liters?|ltr|l|cm|m|units?|pcs|pc|pieces?|count)`
	month     = `(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`
	date      = `(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}|` + month + `\s*,?\s*\d{2,4}|\d{1,2}\s+` + month + `\s*,?\s*\d{2,4})`
	country   = `(?:the\s+)?([a-z]+(?:\s+(?:kingdom|states|arab\s+emirates|korea|zealand|africa|lanka|arabia))?)`
)

func re(p string) *regexp.Regexp {
	return regexp.MustCompile(p)
}

func lengthBetween(min, max int) func(string) bool {
	return func(v string) bool {
		n := utf8.RuneCountInString(v)
		return n >= min && n <= max
	}
}

var countryStopWords = map[string]bool{
	"house":      true,
	"our":        true,
	"any":        true,
	"store":      true,
	"small":      true,
	"large":      true,
	"batches":    true,
	"bulk":       true,
	"limited":    true,
	"home":       true,
	"kitchen":    true,
	"factory":    true,
	"facility":   true,
	"facilities": true,
	"premises":   true,
	"hygienic":   true,
	"accordance": true,
}

func plausibleCountry(v string) bool {
	if !lengthBetween(3, 30)(v) {
		return false
	}
	return !countryStopWords[strings.ToLower(v)]
}

// countryName is the guard for free-text phrases like "made in", which also
// precede ordinary words ("made in small batches"). The value must read as a
// proper noun.
func countryName(v string) bool {
	if !plausibleCountry(v) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(v)
	return unicode.IsUpper(r)
}

// DefaultSpecs returns the extraction rules for every legal-metrology field.
// Within a field, strategies run structured first, then loose, then bare.
func DefaultSpecs() []FieldSpec {
	return []FieldSpec{
		{
			Field: models.FieldMRP,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\b(?:m\.?r\.?p\.?|maximum\s+retail\s+price)(?:\s*\(incl[^)]*\))?\s*[:\-]?\s*(` + amount + `)`)},
				{Kind: Loose, Pattern: re(`(?i)\bmrp\b[^\n\d₹]{0,40}?(` + curAmount + `)`)},
				{Kind: Bare, Pattern: re(`(₹\s*\d[\d,]*(?:\.\d{1,2})?)`)},
			},
		},
		{
			Field: models.FieldPrice,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\b(?:selling|offer|deal|sale|special)\s+price\s*[:\-]?\s*(` + amount + `)`)},
				{Kind: Loose, Pattern: re(`(?i)(?:^|[^\w])price\s*[:\-]\s*(` + amount + `)`)},
			},
		},
		{
			Field: models.FieldNetQuantity,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\bnet\s*(?:quantity|qty|weight|wt|content|contents|vol|volume)\.?\s*[:\-]?\s*(\d+(?:\.\d+)?\s*` + qtyUnit + `)\b`)},
				{Kind: Loose, Pattern: re(`(?i)\b(?:item\s+weight|quantity|weight|contents?|pack\s+of)\b[^\n\d]{0,20}(\d+(?:\.\d+)?\s*` + qtyUnit + `)\b`)},
				{Kind: Bare, Pattern: re(`(?i)\b(\d+(?:\.\d+)?\s*(?:kg|g|ml|l|ltr))\b`)},
			},
		},
		{
			Field: models.FieldManufacturer,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?im)\b(?:manufactured|mfd\.?|mfg\.?|packed)\s*(?:&\s*\w+\s+)?by\s*[:\-]?\s*([^\n]+)`), Accept: lengthBetween(4, 500)},
				{Kind: Structured, Pattern: re(`(?im)\b(?:manufacturer|packer)(?:\s+(?:details|name\s*(?:&|and)\s*address))?\s*[:\-]\s*([^\n]+)`), Accept: lengthBetween(4, 500)},
				{Kind: Loose, Pattern: re(`(?im)\b(?:marketed|distributed)\s+by\s*[:\-]?\s*([^\n]+)`), Accept: lengthBetween(4, 500)},
			},
		},
		{
			Field: models.FieldImporter,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?im)\bimported(?:\s*(?:&|and)\s*marketed)?\s+by\s*[:\-]?\s*([^\n]+)`), Accept: lengthBetween(4, 500)},
				{Kind: Structured, Pattern: re(`(?im)\bimporter(?:\s+(?:details|name\s*(?:&|and)\s*address))?\s*[:\-]\s*([^\n]+)`), Accept: lengthBetween(4, 500)},
			},
		},
		{
			Field: models.FieldCountryOfOrigin,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\bcountry\s+of\s+origin\s*[:\-]?\s*` + country), Accept: plausibleCountry},
				{Kind: Loose, Pattern: re(`(?i)\b(?:made|manufactured|produced)\s+in\s+` + country), Accept: countryName},
				{Kind: Loose, Pattern: re(`(?i)\bproduct\s+of\s+` + country), Accept: countryName},
				{Kind: Loose, Pattern: re(`(?i)\borigin\s*[:\-]\s*` + country), Accept: plausibleCountry},
			},
		},
		{
			Field: models.FieldGenericName,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?im)\b(?:generic|common)\s+name\s*[:\-]?\s*([^\n]+)`), Accept: lengthBetween(2, 200)},
				{Kind: Loose, Pattern: re(`(?im)\b(?:item|product)\s+type(?:\s+name)?\s*[:\-]?\s*([^\n]+)`), Accept: lengthBetween(2, 100)},
			},
		},
		{
			Field: models.FieldDateOfManufacture,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\b(?:date\s+of\s+(?:manufacture|mfg|manufacturing|packing)|(?:mfg|mfd|manufacturing|packing)\.?\s*date|mfd\.?\s*on|packed\s+on|pkd\.?)\s*[:\-]?\s*` + date)},
				{Kind: Loose, Pattern: re(`(?i)\b(?:mfg|mfd|manufactured)\b[^\n\d]{0,15}?` + date)},
			},
		},
		{
			Field: models.FieldDateOfImport,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\b(?:date\s+of\s+import|import\s+date|imported\s+on)\s*[:\-]?\s*` + date)},
			},
		},
		{
			Field: models.FieldBestBefore,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\b(?:best\s+before|expiry\s+date|exp\.?\s*date|expiry|use\s+by|bb)\s*[:\-]?\s*` + date)},
				{Kind: Loose, Pattern: re(`(?i)\b(?:best\s+before|expiry|shelf\s+life|use\s+within)\s*[:\-]?\s*(\d+\s*(?:days?|months?|years?)(?:\s+from\s+(?:the\s+date\s+of\s+)?(?:manufacture|mfg|packing|packaging))?)`)},
			},
		},
		{
			Field: models.FieldCustomerCare,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\b(?:customer|consumer)\s+(?:care|service|support)(?:\s+(?:number|no\.?|details))?\s*[:\-]?\s*([+\d][\d \-()]{6,}\d)`)},
				{Kind: Structured, Pattern: re(`(?i)\b(?:customer\s+care|consumer\s+care|contact|e-?mail)\s*[:\-]?\s*([a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,})`)},
				{Kind: Loose, Pattern: re(`(?i)\b(?:helpline|toll[\s-]*free|contact(?:\s+us)?)\s*[:\-]?\s*([+\d][\d \-()]{6,}\d)`)},
				{Kind: Bare, Pattern: re(`(?i)\b([a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,})\b`)},
			},
		},
		{
			Field: models.FieldUnitSalePrice,
			Strategies: []Strategy{
				{Kind: Structured, Pattern: re(`(?i)\bunit\s+(?:sale\s+)?price\s*[:\-]?\s*(` + amount + `\s*(?:/|per)\s*(?:\d+\s*)?[a-z]+)`)},
				{Kind: Loose, Pattern: re(`(?i)(` + curAmount + `\s*(?:/|per)\s*(?:\d+\s*)?(?:kg|g|gm|ml|l|ltr|litre|unit|count|pc|piece)s?)\b`)},
			},
		},
	}
}
