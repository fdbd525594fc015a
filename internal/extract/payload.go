package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/docledger/docledger/internal/model"
)

// dateLayouts are tried in order when reading the document date.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Currencies holds the codes a record may carry.
type Currencies struct {
	Base    string
	Foreign string
}

// Resolve maps a free-text currency to the base or foreign code. Empty means
// base.
func (c Currencies) Resolve(raw string) (string, bool) {
	cur := model.NormalizeText(raw)
	switch {
	case cur == "":
		return c.Base, true
	case c.Foreign != "" && strings.Contains(cur, c.Foreign):
		return c.Foreign, true
	case strings.Contains(cur, c.Base):
		return c.Base, true
	}
	return "", false
}

// ParsePayload turns a raw model response into a record. The response is
// untrusted: anything other than a well-formed record becomes a *Failure.
func ParsePayload(raw []byte, role model.Role, cur Currencies) (model.ExtractedRecord, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return model.ExtractedRecord{}, err
	}

	if msg, ok := fields["error"]; ok && msg != nil {
		text := strings.TrimSpace(fmt.Sprint(msg))
		if text != "" {
			return model.ExtractedRecord{}, fail(KindModelError, text, nil)
		}
	}

	rawDate := text(fields, "date")
	rawSubtotal, hasSubtotal := present(fields, "subtotal")
	rawTotal, hasTotal := present(fields, "total")
	if rawDate == "" || (!hasSubtotal && !hasTotal) {
		return model.ExtractedRecord{}, fail(KindMissingFields, "missing required fields", nil)
	}

	date, err := parseDate(rawDate)
	if err != nil {
		return model.ExtractedRecord{}, fail(KindUnparseableDate, "unparseable date", err)
	}

	var subtotal, tax, total decimal.Decimal
	if hasSubtotal {
		if subtotal, err = amount(rawSubtotal); err != nil {
			return model.ExtractedRecord{}, fail(KindUnparseableAmount, "unparseable amount", fmt.Errorf("subtotal: %w", err))
		}
	}
	if rawTax, ok := present(fields, "tax", "vat"); ok {
		if tax, err = amount(rawTax); err != nil {
			return model.ExtractedRecord{}, fail(KindUnparseableAmount, "unparseable amount", fmt.Errorf("tax: %w", err))
		}
	}
	if hasTotal {
		if total, err = amount(rawTotal); err != nil {
			return model.ExtractedRecord{}, fail(KindUnparseableAmount, "unparseable amount", fmt.Errorf("total: %w", err))
		}
	}

	// Fill in the missing side of subtotal + tax = total.
	switch {
	case !hasTotal:
		total = subtotal.Add(tax)
	case !hasSubtotal:
		subtotal = total.Sub(tax)
		if subtotal.IsNegative() {
			subtotal = total
		}
	}

	currency, ok := cur.Resolve(text(fields, "currency"))
	if !ok {
		return model.ExtractedRecord{}, fail(KindCurrency, fmt.Sprintf("unrecognized currency %q", text(fields, "currency")), nil)
	}

	docNumber := model.NormalizeText(text(fields, "document_number", "invoice_number", "number"))
	if docNumber == "" {
		docNumber = model.UnknownDocumentNumber
	}

	return model.ExtractedRecord{
		Date:           date,
		DocumentNumber: docNumber,
		Counterparty:   model.NormalizeText(text(fields, counterpartyKeys(role)...)),
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          total,
		Currency:       currency,
	}, nil
}

// decodeObject strips markdown fences and decodes a single JSON object. A
// one-element array is accepted as that element.
func decodeObject(raw []byte) (map[string]any, error) {
	body := stripFences(raw)
	if len(body) == 0 {
		return nil, fail(KindMalformed, "empty response", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fail(KindMalformed, "malformed response", err)
	}

	switch t := v.(type) {
	case map[string]any:
		return lowerKeys(t), nil
	case []any:
		if len(t) == 1 {
			if m, ok := t[0].(map[string]any); ok {
				return lowerKeys(m), nil
			}
		}
	}
	return nil, fail(KindMalformed, "malformed response", fmt.Errorf("expected a JSON object, got %T", v))
}

func stripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return []byte(strings.TrimSpace(s))
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func counterpartyKeys(role model.Role) []string {
	if role == model.RoleClient {
		return []string{"client", "counterparty", "customer", "vendor"}
	}
	return []string{"vendor", "counterparty", "supplier", "client"}
}

// present returns the first key holding a non-null, non-blank value.
func present(fields map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// text returns the first present key rendered as a trimmed string.
func text(fields map[string]any, keys ...string) string {
	v, ok := present(fields, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func amount(v any) (decimal.Decimal, error) {
	var d decimal.Decimal
	var err error
	switch t := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case string:
		d, err = model.ParseAmount(t)
	default:
		return decimal.Zero, fmt.Errorf("unexpected %T", v)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", d)
	}
	return d, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// Tolerate timestamps by keeping only the date part.
	if len(s) > 10 && (s[10] == 'T' || s[10] == ' ') {
		s = s[:10]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q matches no known layout", s)
}
