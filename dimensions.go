package monagent

import (
	"sort"
	"strings"
)

// Dimensions are the name/value pairs attached to a Measurement.
type Dimensions map[string]string

const (
	// DimensionHostname is added to every measurement that does not carry it already.
	DimensionHostname = "hostname"
	// DimensionDevice is set from the device name given on submission.
	DimensionDevice = "device"
	// DimensionDB names the database a measurement belongs to.
	DimensionDB = "db"
)

// Copy returns a shallow copy, nil stays nil.
func (d Dimensions) Copy() Dimensions {
	if d == nil {
		return nil
	}
	c := make(Dimensions, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// Merge layers dimensions for a measurement: the receiver is the base, keys
// from instance override it and defaults only fill keys still missing.
// The receiver is not modified.
func (d Dimensions) Merge(instance, defaults Dimensions) Dimensions {
	out := make(Dimensions, len(d)+len(instance)+len(defaults))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range instance {
		out[k] = v
	}
	for k, v := range defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// MergeDB is Merge for measurements read from a database: the configured db
// dimension is dropped and replaced by the one the query returned.
func (d Dimensions) MergeDB(instance, defaults Dimensions, db string) Dimensions {
	out := d.Merge(instance, defaults)
	delete(out, DimensionDB)
	if db != "" {
		out[DimensionDB] = db
	}
	return out
}

// Key renders the dimensions as a stable string, usable as a map key.
// Pairs are separated by a NUL byte.
func (d Dimensions) Key() string {
	if len(d) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d[k])
	}
	return b.String()
}
