package query

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ClauseKind tags a raw clause by its role in the grammar.
type ClauseKind int

const (
	KindFilter ClauseKind = iota
	KindSort
	KindLimit
	KindOffset
	KindCursor
	KindSelect
	KindAggregate
	KindGroupBy
)

// String returns the kind name, for diagnostics.
func (k ClauseKind) String() string {
	switch k {
	case KindFilter:
		return "filter"
	case KindSort:
		return "sort"
	case KindLimit:
		return "limit"
	case KindOffset:
		return "offset"
	case KindCursor:
		return "cursor"
	case KindSelect:
		return "select"
	case KindAggregate:
		return "aggregate"
	case KindGroupBy:
		return "groupby"
	}
	return "unknown"
}

// RawClause is one tokenized, percent-decoded, unvalidated clause.
//
// For filters, Key is the path, Op the operator name, Operands the
// comma-separated operand list (empty for zero-arity operators).
// For sorts, Op is the direction and Operands the path list.
// For aggregates, Op is the function name and Operands holds the target path
// (possibly empty). For the remaining kinds Op is empty and Operands holds
// the clause value(s).
type RawClause struct {
	Kind     ClauseKind
	Key      string
	Op       string
	Operands []string

	// Raw is the clause verbatim as received, used in error reporting.
	Raw string
}

// separator divides operator from operands within a clause value.
const separator = "::"

// Parse tokenizes a query string into tagged raw clauses.
//
// Parse is a pure function: it performs percent-decoding and NFC
// normalization but no semantic checks - unknown operators, bad types and
// out-of-range values are the validator's concern. Any lexical fault aborts
// the whole parse; no partial clause list is ever returned.
//
// Operand lists are split on "," before percent-decoding, so a literal comma
// inside an operand must be encoded as %2C.
func Parse(raw string) ([]RawClause, error) {
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return []RawClause{}, nil
	}

	parts := strings.Split(raw, "&")
	clauses := make([]RawClause, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, parseErrorf(part, ErrCodeEmptyClause, "empty clause")
		}
		clause, err := parseClause(part)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

func parseClause(raw string) (RawClause, error) {
	keyEnc, valueEnc, _ := strings.Cut(raw, "=")

	key, err := decode(keyEnc)
	if err != nil {
		return RawClause{}, parseErrorf(raw, ErrCodeBadEscape, "malformed percent-encoding in key")
	}
	if key == "" {
		return RawClause{}, parseErrorf(raw, ErrCodeEmptyPath, "clause has no key")
	}

	switch key {
	case "order":
		op, operands, err := splitOperands(raw, valueEnc)
		if err != nil {
			return RawClause{}, err
		}
		return RawClause{Kind: KindSort, Key: key, Op: op, Operands: operands, Raw: raw}, nil
	case "limit":
		return singleValueClause(KindLimit, key, raw, valueEnc)
	case "offset":
		return singleValueClause(KindOffset, key, raw, valueEnc)
	case "cursor":
		return singleValueClause(KindCursor, key, raw, valueEnc)
	case "select":
		operands, err := decodeList(raw, valueEnc)
		if err != nil {
			return RawClause{}, err
		}
		return RawClause{Kind: KindSelect, Key: key, Operands: operands, Raw: raw}, nil
	case "groupby":
		operands, err := decodeList(raw, valueEnc)
		if err != nil {
			return RawClause{}, err
		}
		return RawClause{Kind: KindGroupBy, Key: key, Operands: operands, Raw: raw}, nil
	case "aggregate":
		op, operands, err := splitOperands(raw, valueEnc)
		if err != nil {
			return RawClause{}, err
		}
		return RawClause{Kind: KindAggregate, Key: key, Op: op, Operands: operands, Raw: raw}, nil
	default:
		op, operands, err := splitOperands(raw, valueEnc)
		if err != nil {
			return RawClause{}, err
		}
		return RawClause{Kind: KindFilter, Key: key, Op: op, Operands: operands, Raw: raw}, nil
	}
}

// splitOperands splits an encoded clause value into operator and operand
// list. The "::" separator is mandatory - its absence is the grammar's
// canonical malformed-clause fault. Zero-arity operators are written with a
// trailing separator and an empty operand part (e.g. "deleted=is-null::").
func splitOperands(raw, valueEnc string) (string, []string, error) {
	opEnc, operandEnc, found := strings.Cut(valueEnc, separator)
	if !found {
		return "", nil, parseErrorf(raw, ErrCodeMissingSeparator, "missing %q separator", separator)
	}
	op, err := decode(opEnc)
	if err != nil {
		return "", nil, parseErrorf(raw, ErrCodeBadEscape, "malformed percent-encoding in operator")
	}
	if operandEnc == "" {
		return op, []string{}, nil
	}
	operands, err := decodeList(raw, operandEnc)
	if err != nil {
		return "", nil, err
	}
	return op, operands, nil
}

func singleValueClause(kind ClauseKind, key, raw, valueEnc string) (RawClause, error) {
	value, err := decode(valueEnc)
	if err != nil {
		return RawClause{}, parseErrorf(raw, ErrCodeBadEscape, "malformed percent-encoding in value")
	}
	return RawClause{Kind: kind, Key: key, Operands: []string{value}, Raw: raw}, nil
}

func decodeList(raw, enc string) ([]string, error) {
	parts := strings.Split(enc, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		dec, err := decode(part)
		if err != nil {
			return nil, parseErrorf(raw, ErrCodeBadEscape, "malformed percent-encoding in operand %q", part)
		}
		out = append(out, dec)
	}
	return out, nil
}

// decode percent-decodes one token and NFC-normalizes it. Normalizing at the
// input boundary keeps path and operand comparisons byte-stable regardless of
// how the caller composed their Unicode.
func decode(s string) (string, error) {
	dec, err := url.QueryUnescape(s)
	if err != nil {
		return "", err
	}
	return norm.NFC.String(dec), nil
}
