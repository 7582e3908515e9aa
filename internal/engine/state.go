package engine

import "encoding/json"

// marshalState serializes a strategy's opaque state map as self-describing
// JSON — the format the persistence boundary round-trips without ever
// inspecting the strategy's internal schema.
func marshalState(state map[string]any) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	return json.Marshal(state)
}

// unmarshalState is the inverse of marshalState; an empty blob yields a nil
// map rather than an error, since "no prior state" is a valid restore case.
func unmarshalState(blob []byte) (map[string]any, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var state map[string]any
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, err
	}
	return state, nil
}
