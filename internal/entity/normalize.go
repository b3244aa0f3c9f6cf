package entity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"ucm-sync/internal/models"
)

var ErrMissingKey = errors.New("record is missing a natural key field")

// textKey holds the character data of an element that also carries
// attributes, e.g. <devicePoolName uuid="{...}">Default</devicePoolName>.
const textKey = "_"

// Normalize flattens a raw AXL record into snake_case columns. References
// returned as name plus uuid attribute become <field> and <field>_uuid.
// Nested elements are prefixed by their parent, lists are kept as lists of
// normalized values.
func Normalize(raw models.RawRecord) models.JSONMap {
	out := make(models.JSONMap, len(raw))
	flattenInto(out, "", raw)
	return out
}

func flattenInto(out models.JSONMap, prefix string, raw map[string]interface{}) {
	for key, value := range raw {
		column := joinColumn(prefix, key)
		if key == textKey {
			column = prefix
		}

		switch v := value.(type) {
		case models.RawRecord:
			flattenInto(out, column, v)
		case map[string]interface{}:
			flattenInto(out, column, v)
		case []interface{}:
			out[column] = normalizeList(v)
		case string:
			if key == "uuid" {
				v = normalizeUUID(v)
			}
			out[column] = v
		default:
			out[column] = v
		}
	}
}

func normalizeList(values []interface{}) []interface{} {
	normalized := make([]interface{}, 0, len(values))
	for _, value := range values {
		switch v := value.(type) {
		case models.RawRecord:
			normalized = append(normalized, map[string]interface{}(Normalize(v)))
		case map[string]interface{}:
			normalized = append(normalized, map[string]interface{}(Normalize(v)))
		default:
			normalized = append(normalized, v)
		}
	}
	return normalized
}

func joinColumn(prefix, key string) string {
	column := toSnakeCase(key)
	if prefix == "" {
		return column
	}
	return prefix + "_" + column
}

// normalizeUUID turns "{ABCD-...}" into "abcd-...".
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(uuid), "{}"))
}

// ToEntityRecord normalizes a raw record and derives its natural key for the
// given descriptor and scope.
func ToEntityRecord(d *Descriptor, scopeID string, raw models.RawRecord) (models.EntityRecord, error) {
	payload := Normalize(raw)

	parts := make([]string, 0, len(d.KeyFields))
	for _, field := range d.KeyFields {
		value := stringValue(payload[field])
		if value == "" {
			return models.EntityRecord{}, fmt.Errorf("%w: %s.%s", ErrMissingKey, d.Type, field)
		}
		parts = append(parts, value)
	}

	return models.EntityRecord{
		EntityType: d.Type,
		ScopeID:    scopeID,
		NaturalKey: strings.Join(parts, "|"),
		Name:       stringValue(payload[d.NameField]),
		UUID:       stringValue(payload["uuid"]),
		Payload:    payload,
	}, nil
}

func stringValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case int:
		return strconv.Itoa(value)
	default:
		return fmt.Sprint(value)
	}
}

// derivePhoneLines expands the <lines><line> appearances of a phone into
// phone-line association records.
func derivePhoneLines(phone models.RawRecord) []models.RawRecord {
	lines, ok := asRecord(phone["lines"])
	if !ok {
		return nil
	}

	var appearances []models.RawRecord
	switch v := lines["line"].(type) {
	case []interface{}:
		for _, item := range v {
			if line, ok := asRecord(item); ok {
				appearances = append(appearances, line)
			}
		}
	default:
		if line, ok := asRecord(v); ok {
			appearances = append(appearances, line)
		}
	}

	phoneUUID := normalizeUUID(stringValue(phone["uuid"]))
	derived := make([]models.RawRecord, 0, len(appearances))
	for position, line := range appearances {
		index := stringValue(line["index"])
		if index == "" {
			index = strconv.Itoa(position + 1)
		}
		association := models.RawRecord{
			"phoneUuid": phoneUUID,
			"phoneName": phone["name"],
			"index":     index,
			"label":     line["label"],
			"display":   line["display"],
			"e164Mask":  line["e164Mask"],
		}
		if dirn, ok := asRecord(line["dirn"]); ok {
			association["pattern"] = dirn["pattern"]
			association["routePartitionName"] = dirn["routePartitionName"]
			association["lineUuid"] = normalizeUUID(stringValue(dirn["uuid"]))
		}
		derived = append(derived, dropNil(association))
	}
	return derived
}

func asRecord(v interface{}) (models.RawRecord, bool) {
	switch value := v.(type) {
	case models.RawRecord:
		return value, true
	case map[string]interface{}:
		return value, true
	default:
		return nil, false
	}
}

func dropNil(record models.RawRecord) models.RawRecord {
	for key, value := range record {
		if value == nil {
			delete(record, key)
		}
	}
	return record
}

func toSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// split before an upper-case rune that starts a new word: after a
			// lower-case rune or digit, or before a lower-case rune inside an
			// acronym ("CSSName" -> "css_name")
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
