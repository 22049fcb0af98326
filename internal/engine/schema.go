package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// SchemaField mirrors one declared field of DEFINE SCHEMA.
type SchemaField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
	HasDef   bool   `json:"hasDefault,omitempty"`
}

// Declared field types, each with its dialect alias.
const (
	TypeNumber  = "NUMBER"
	TypeText    = "TEXT"
	TypeBoolean = "BOOLEAN"
	TypeDate    = "DATE"
)

var typeAliases = map[string]string{
	"NUMBER":      TypeNumber,
	"ANGKA":       TypeNumber,
	"TEXT":        TypeText,
	"TEKS":        TypeText,
	"STRING":      TypeText,
	"BOOLEAN":     TypeBoolean,
	"BENAR_SALAH": TypeBoolean,
	"DATE":        TypeDate,
	"TANGGAL":     TypeDate,
}

// DefineSchema stores (or replaces) a table's schema in _schemas.
func (db *Database) DefineSchema(table string, fields []SchemaField) error {
	if IsSystemName(table) {
		return fmt.Errorf("%w: %q", ErrReservedName, table)
	}
	for i := range fields {
		canon, ok := typeAliases[strings.ToUpper(fields[i].Type)]
		if !ok {
			return fmt.Errorf("%w: unknown type %q for field %q",
				ErrConstraintViolation, fields[i].Type, fields[i].Name)
		}
		fields[i].Type = canon
	}
	if _, err := db.ensureSystemTable(SysSchemas); err != nil {
		return err
	}
	blob, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("engine: encode schema: %w", err)
	}
	entry := db.catalog[SysSchemas]
	if _, err := db.deleteRows(entry, func(r Row) bool {
		t, _ := r["table"].(string)
		return t == table
	}); err != nil {
		return err
	}
	if _, err := db.AppendRow(SysSchemas, Row{"table": table, "fields": string(blob)}); err != nil {
		return err
	}
	db.schemas[table] = fields
	db.Audit("DEFINE_SCHEMA", table, 0)
	return nil
}

// Schema returns the declared fields for table, if any.
func (db *Database) Schema(table string) ([]SchemaField, bool) {
	f, ok := db.schemas[table]
	return f, ok
}

func (db *Database) loadSchemas() error {
	db.schemas = make(map[string][]SchemaField)
	if _, ok := db.catalog[SysSchemas]; !ok {
		return nil
	}
	return db.ScanTable(SysSchemas, func(row Row, _ uint32) error {
		table, _ := row["table"].(string)
		blob, _ := row["fields"].(string)
		if table == "" || blob == "" {
			return nil
		}
		var fields []SchemaField
		if err := json.Unmarshal([]byte(blob), &fields); err != nil {
			return fmt.Errorf("engine: schema for %q: %w", table, err)
		}
		db.schemas[table] = fields
		return nil
	})
}

// CoerceRow validates row against the table's schema, filling defaults and
// converting values to the declared kinds. Tables without a schema pass
// through untouched; unknown fields always pass through.
func (db *Database) CoerceRow(table string, row Row) (Row, error) {
	fields, ok := db.schemas[table]
	if !ok {
		return row, nil
	}
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, f := range fields {
		v, present := out[f.Name]
		if !present || v == nil {
			if f.HasDef {
				out[f.Name] = f.Default
				continue
			}
			if f.Required {
				return nil, fmt.Errorf("%w: field %q is required", ErrConstraintViolation, f.Name)
			}
			continue
		}
		coerced, err := coerceValue(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrConstraintViolation, f.Name, err)
		}
		out[f.Name] = coerced
	}
	return out, nil
}

func coerceValue(typ string, v any) (any, error) {
	switch typ {
	case TypeNumber:
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("not a number: %v", v)
		}
		return n, nil
	case TypeText:
		return cast.ToString(v), nil
	case TypeBoolean:
		// "true"|"false"|0|1 all accepted
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %v", v)
		}
		return b, nil
	case TypeDate:
		return normalizeDate(v)
	default:
		return v, nil
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// normalizeDate converts accepted date inputs to an ISO-8601 string.
func normalizeDate(v any) (any, error) {
	switch d := v.(type) {
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("not a date: %q", d)
	case float64:
		return time.Unix(int64(d), 0).UTC().Format(time.RFC3339), nil
	case int64:
		return time.Unix(d, 0).UTC().Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("not a date: %v", v)
	}
}
