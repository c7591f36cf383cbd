package models

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxFieldLength caps every extracted legal-metrology value.
const MaxFieldLength = 200

const (
	FieldPrice             = "price"
	FieldMRP               = "mrp"
	FieldNetQuantity       = "net_quantity"
	FieldManufacturer      = "manufacturer_details"
	FieldImporter          = "importer_details"
	FieldCountryOfOrigin   = "country_of_origin"
	FieldGenericName       = "generic_name"
	FieldDateOfManufacture = "date_of_manufacture"
	FieldDateOfImport      = "date_of_import"
	FieldBestBefore        = "best_before_date"
	FieldCustomerCare      = "customer_care_details"
	FieldUnitSalePrice     = "unit_sale_price"
)

// Fields lists every name-addressable field in declaration order.
var Fields = []string{
	FieldPrice,
	FieldMRP,
	FieldNetQuantity,
	FieldManufacturer,
	FieldImporter,
	FieldCountryOfOrigin,
	FieldGenericName,
	FieldDateOfManufacture,
	FieldDateOfImport,
	FieldBestBefore,
	FieldCustomerCare,
	FieldUnitSalePrice,
}

var ErrUnknownField = errors.New("unknown product field")

// ProductRecord is the structured record for one listing. Every optional
// field is either nil or a non-empty trimmed string.
type ProductRecord struct {
	SourceURL string   `json:"source_url"`
	Platform  string   `json:"platform"`
	Category  string   `json:"category,omitempty"`
	ImageURLs []string `json:"image_urls"`

	Price *string `json:"price"`
	MRP   *string `json:"mrp"`

	NetQuantity         *string `json:"net_quantity"`
	ManufacturerDetails *string `json:"manufacturer_details"`
	ImporterDetails     *string `json:"importer_details"`
	CountryOfOrigin     *string `json:"country_of_origin"`
	GenericName         *string `json:"generic_name"`
	DateOfManufacture   *string `json:"date_of_manufacture"`
	DateOfImport        *string `json:"date_of_import"`
	BestBeforeDate      *string `json:"best_before_date"`
	CustomerCareDetails *string `json:"customer_care_details"`
	UnitSalePrice       *string `json:"unit_sale_price"`

	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	FullPageText string `json:"full_page_text"`
	OCRText      string `json:"ocr_text"`

	FetchStatus      string        `json:"fetch_status"`
	ComplianceStatus OverallStatus `json:"compliance_status"`
	ComplianceScore  float64       `json:"compliance_score"`
	IssuesFound      []string      `json:"issues_found"`
	ExtractedAt      time.Time     `json:"extracted_at"`
}

func NewProductRecord(sourceURL, platform string) *ProductRecord {
	return &ProductRecord{
		SourceURL:   sourceURL,
		Platform:    platform,
		ImageURLs:   make([]string, 0),
		IssuesFound: make([]string, 0),
		ExtractedAt: time.Now(),
	}
}

func (r *ProductRecord) slot(name string) (**string, error) {
	switch name {
	case FieldPrice:
		return &r.Price, nil
	case FieldMRP:
		return &r.MRP, nil
	case FieldNetQuantity:
		return &r.NetQuantity, nil
	case FieldManufacturer:
		return &r.ManufacturerDetails, nil
	case FieldImporter:
		return &r.ImporterDetails, nil
	case FieldCountryOfOrigin:
		return &r.CountryOfOrigin, nil
	case FieldGenericName:
		return &r.GenericName, nil
	case FieldDateOfManufacture:
		return &r.DateOfManufacture, nil
	case FieldDateOfImport:
		return &r.DateOfImport, nil
	case FieldBestBefore:
		return &r.BestBeforeDate, nil
	case FieldCustomerCare:
		return &r.CustomerCareDetails, nil
	case FieldUnitSalePrice:
		return &r.UnitSalePrice, nil
	}
	return nil, ErrUnknownField
}

// Field returns the current value of a named field and whether it is set.
func (r *ProductRecord) Field(name string) (string, bool, error) {
	p, err := r.slot(name)
	if err != nil {
		return "", false, err
	}
	if *p == nil {
		return "", false, nil
	}
	return **p, true, nil
}

// SetField normalizes value and stores it, overwriting any previous value.
// It reports false when the value normalizes to the empty string.
func (r *ProductRecord) SetField(name, value string) (bool, error) {
	p, err := r.slot(name)
	if err != nil {
		return false, err
	}
	v, ok := NormalizeValue(value)
	if !ok {
		return false, nil
	}
	*p = &v
	return true, nil
}

// SetFieldIfAbsent behaves like SetField but never replaces a present value.
func (r *ProductRecord) SetFieldIfAbsent(name, value string) (bool, error) {
	p, err := r.slot(name)
	if err != nil {
		return false, err
	}
	if *p != nil {
		return false, nil
	}
	return r.SetField(name, value)
}

// IsKnownField reports whether name addresses a record field.
func IsKnownField(name string) bool {
	var r ProductRecord
	_, err := r.slot(name)
	return err == nil
}

// NormalizeValue trims and truncates an extracted value.
func NormalizeValue(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if utf8.RuneCountInString(v) > MaxFieldLength {
		v = strings.TrimSpace(string([]rune(v)[:MaxFieldLength]))
	}
	return v, v != ""
}

// ApplyReport copies the compliance outcome of report onto the record.
func (r *ProductRecord) ApplyReport(report *ValidationReport) {
	r.ComplianceStatus = report.OverallStatus
	r.ComplianceScore = report.Score()
	r.IssuesFound = make([]string, 0, report.ViolationsCount)
	for _, res := range report.RuleResults {
		if res.Violated {
			r.IssuesFound = append(r.IssuesFound, res.RuleID+": "+res.Details)
		}
	}
}

// Clone returns a deep copy of the record.
func (r *ProductRecord) Clone() *ProductRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ImageURLs = append([]string(nil), r.ImageURLs...)
	c.IssuesFound = append([]string(nil), r.IssuesFound...)
	for _, name := range Fields {
		src, _ := r.slot(name)
		dst, _ := c.slot(name)
		if *src != nil {
			v := **src
			*dst = &v
		}
	}
	return &c
}

// Score is 100 minus an equal share per violated rule, floored at 0.
func (v *ValidationReport) Score() float64 {
	if v.TotalRules == 0 {
		if v.ViolationsCount == 0 {
			return 100
		}
		return 0
	}
	score := 100 - float64(v.ViolationsCount)*(100/float64(v.TotalRules))
	if score < 0 {
		score = 0
	}
	return math.Round(score*100) / 100
}
