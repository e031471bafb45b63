package postgres

import (
	"reflect"
	"sync"
)

// ExtractDBColumns extracts all column names from struct "db" tags.
// It handles embedded structs recursively.
// This function is called once at initialization time, so reflection overhead is acceptable.
//
// Usage:
//
//	columns := ExtractDBColumns[entity.ProductBatch]()
//	// Returns: ["id", "product_id", "batch_number", "expiry_date", ...]
func ExtractDBColumns[T any]() []string {
	var zero T
	return extractColumnsFromType(reflect.TypeOf(zero))
}

// extractColumnsFromType recursively extracts column names from a type.
func extractColumnsFromType(t reflect.Type) []string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil
	}

	var cols []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Anonymous {
			cols = append(cols, extractColumnsFromType(field.Type)...)
			continue
		}

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}

		cols = append(cols, tag)
	}

	return cols
}

// fieldInfo contains pre-computed metadata about a struct field.
type fieldInfo struct {
	index int    // Field index in the struct
	dbTag string // Database column name
}

// typeMetadata contains cached reflection metadata for a type.
type typeMetadata struct {
	fields          []fieldInfo
	embeddedIndices []int // Indices of embedded fields for recursive processing
}

// Global cache for type metadata (thread-safe).
var typeCache sync.Map // map[reflect.Type]*typeMetadata

// getOrCreateTypeMetadata returns cached metadata or creates it if not exists.
func getOrCreateTypeMetadata(t reflect.Type) *typeMetadata {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if cached, ok := typeCache.Load(t); ok {
		return cached.(*typeMetadata)
	}

	meta := &typeMetadata{}

	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)

			if field.Anonymous {
				meta.embeddedIndices = append(meta.embeddedIndices, i)
				continue
			}

			tag := field.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}

			meta.fields = append(meta.fields, fieldInfo{index: i, dbTag: tag})
		}
	}

	typeCache.Store(t, meta)
	return meta
}

// StructToMap converts a struct to a map using "db" tags.
// It only includes fields that have a "db" tag and are not ignored ("-").
//
// Uses cached type metadata: the first call for a type does reflection,
// subsequent calls reuse it.
func StructToMap(v any) map[string]any {
	return structToMap(reflect.ValueOf(v))
}

// structToMap walks embedded structs through reflect.Value, so promoted
// fields of unexported embedded types are read without Interface on the
// embedded value itself.
func structToMap(rv reflect.Value) map[string]any {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	if rv.Kind() != reflect.Struct {
		return nil
	}

	meta := getOrCreateTypeMetadata(rv.Type())

	res := make(map[string]any, len(meta.fields))

	for _, fi := range meta.fields {
		res[fi.dbTag] = rv.Field(fi.index).Interface()
	}

	for _, embIdx := range meta.embeddedIndices {
		for k, v := range structToMap(rv.Field(embIdx)) {
			res[k] = v
		}
	}

	return res
}
