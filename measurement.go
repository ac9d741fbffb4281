package monagent

import (
	"fmt"
)

// Measurement is a single point ready to be sent to the forwarder.
type Measurement struct {
	Name            string            `json:"name"`
	Timestamp       float64           `json:"timestamp"`
	Value           float64           `json:"value"`
	Dimensions      Dimensions        `json:"dimensions"`
	DelegatedTenant string            `json:"delegated_tenant,omitempty"`
	ValueMeta       map[string]string `json:"value_meta,omitempty"`
}

// NewMeasurement copies dimensions and value meta so the returned Measurement
// does not share maps with the caller.
func NewMeasurement(name string, timestamp, value float64, dims Dimensions, delegatedTenant string, valueMeta map[string]string) Measurement {
	m := Measurement{
		Name:            name,
		Timestamp:       timestamp,
		Value:           value,
		Dimensions:      dims.Copy(),
		DelegatedTenant: delegatedTenant,
	}
	if len(valueMeta) > 0 {
		m.ValueMeta = make(map[string]string, len(valueMeta))
		for k, v := range valueMeta {
			m.ValueMeta[k] = v
		}
	}
	return m
}

func (m Measurement) String() string {
	return fmt.Sprintf("{%s, %f, %v, %v}", m.Name, m.Value, m.Dimensions, m.Timestamp)
}
