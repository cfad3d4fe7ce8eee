package trust

import "encoding/json"

// marshalAttributes round-trips a record's raw attributes through JSON so
// pkg/criteria's json.RawMessage-based evaluator can walk them.
func marshalAttributes(attrs map[string]any) (json.RawMessage, error) {
	return json.Marshal(attrs)
}
