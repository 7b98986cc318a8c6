package store

import "encoding/json"

// marshalJSON encodes v to a compact JSON byte slice, used for the handful
// of store columns (needs, capabilities, handlers) that store a structured
// value GORM's datatypes.JSON wraps.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
