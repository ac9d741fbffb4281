package monagent

import (
	"github.com/spf13/cast"
)

// Instance is one entry of a check's instances list, as read from its
// configuration file.
type Instance map[string]interface{}

const (
	// InstanceName is the key naming a service check target.
	InstanceName = "name"
	// InstanceDimensions is the key holding per instance dimensions.
	InstanceDimensions = "dimensions"
)

// Name returns the target name and whether it was set.
func (i Instance) Name() (string, bool) {
	v, ok := i[InstanceName]
	if !ok || v == nil {
		return "", false
	}
	return cast.ToString(v), true
}

// GetString returns key as a string, or def when missing.
func (i Instance) GetString(key, def string) string {
	v, ok := i[key]
	if !ok || v == nil {
		return def
	}
	return cast.ToString(v)
}

// GetInt returns key as an int, or def when missing or not numeric.
func (i Instance) GetInt(key string, def int) int {
	v, ok := i[key]
	if !ok || v == nil {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

// GetBool returns key as a bool, or def when missing or not a bool.
func (i Instance) GetBool(key string, def bool) bool {
	v, ok := i[key]
	if !ok || v == nil {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Dimensions returns the instance dimensions, nil when there are none.
func (i Instance) Dimensions() Dimensions {
	v, ok := i[InstanceDimensions]
	if !ok || v == nil {
		return nil
	}
	m, err := cast.ToStringMapStringE(v)
	if err != nil || len(m) == 0 {
		return nil
	}
	return Dimensions(m)
}
