package corrector

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/maltedev/lmpc-scraper/internal/models"
)

var ErrUnparseable = errors.New("correction response is not a JSON object")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ParseResponse reads a flat key/value object out of a model reply. It tries
// the whole reply as JSON, then the first fenced code block, then the first
// balanced {...} substring. Null values are dropped and non-string values
// are kept as their JSON text.
func ParseResponse(text string) (map[string]string, bool) {
	text = strings.TrimSpace(text)

	if m, ok := decodeObject(text); ok {
		return m, true
	}
	if sub := fencedBlock.FindStringSubmatch(text); sub != nil {
		if m, ok := decodeObject(strings.TrimSpace(sub[1])); ok {
			return m, true
		}
	}
	if obj, ok := firstBalancedObject(text); ok {
		if m, ok := decodeObject(obj); ok {
			return m, true
		}
	}
	return nil, false
}

func decodeObject(s string) (map[string]string, bool) {
	if s == "" {
		return nil, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil || raw == nil {
		return nil, false
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) == 0 || string(v) == "null" {
			continue
		}
		if v[0] == '"' {
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				continue
			}
			out[k] = str
			continue
		}
		out[k] = string(v)
	}
	return out, true
}

// firstBalancedObject returns the substring from the first '{' to its
// matching '}', ignoring braces inside JSON strings.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// canonicalize maps reply keys onto record field names. Exact field names
// win over loosely named keys such as "manufacturer" or "MRP".
func canonicalize(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if models.IsKnownField(k) {
			out[k] = values[k]
		}
	}
	for _, k := range keys {
		field := aliasField(k)
		if field == "" {
			continue
		}
		if _, taken := out[field]; !taken {
			out[field] = values[k]
		}
	}
	return out
}

var keySeparators = strings.NewReplacer("-", "_", " ", "_", ".", "")

func aliasField(key string) string {
	k := keySeparators.Replace(strings.ToLower(strings.TrimSpace(key)))
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(k, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("mrp", "retail_price"):
		return models.FieldMRP
	case has("origin", "country"):
		return models.FieldCountryOfOrigin
	case has("quantity", "net_weight", "net_wt", "net_qty"):
		return models.FieldNetQuantity
	case has("importer"):
		return models.FieldImporter
	case has("manufacturer", "mfd_by", "manufactured_by", "packer"):
		return models.FieldManufacturer
	case has("generic", "common_name"):
		return models.FieldGenericName
	case has("care", "customer", "consumer", "helpline"):
		return models.FieldCustomerCare
	case has("best_before", "expiry", "use_by", "shelf_life"):
		return models.FieldBestBefore
	case has("import") && has("date"):
		return models.FieldDateOfImport
	case has("unit") && has("price"):
		return models.FieldUnitSalePrice
	case has("date", "mfg", "manufactur"):
		return models.FieldDateOfManufacture
	case has("price"):
		return models.FieldPrice
	}
	return ""
}
