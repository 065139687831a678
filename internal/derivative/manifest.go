package derivative

import "encoding/json"

// Manifest describes the outputs available for a content identifier. It is
// opaque: callers ask capability questions through HasDerivative and never
// read fields directly, so structurally incomplete manifests are tolerated.
type Manifest struct {
	raw  json.RawMessage
	tree any
}

// ParseManifest wraps a raw manifest document.
func ParseManifest(raw []byte) (Manifest, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return Manifest{}, err
	}
	return Manifest{raw: append(json.RawMessage(nil), raw...), tree: tree}, nil
}

// UnmarshalJSON lets a Manifest be decoded directly from a response body.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	parsed, err := ParseManifest(data)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Raw returns the manifest document as received.
func (m Manifest) Raw() json.RawMessage {
	return m.raw
}

// Query selects derivative nodes; every key must match the node's string field.
type Query map[string]string

// Geometry matches viewable geometry derivatives.
var Geometry = Query{"type": "geometry"}

// HasDerivative reports whether any node under the manifest's derivatives
// tree matches q. It never fails: missing or malformed sections yield false.
func HasDerivative(m Manifest, q Query) bool {
	if len(q) == 0 {
		return false
	}
	root, ok := m.tree.(map[string]any)
	if !ok {
		return false
	}
	derivatives, ok := root["derivatives"].([]any)
	if !ok {
		return false
	}
	for _, node := range derivatives {
		if findNode(node, q) {
			return true
		}
	}
	return false
}

func findNode(node any, q Query) bool {
	obj, ok := node.(map[string]any)
	if !ok {
		return false
	}
	if matches(obj, q) {
		return true
	}
	children, _ := obj["children"].([]any)
	for _, child := range children {
		if findNode(child, q) {
			return true
		}
	}
	return false
}

func matches(obj map[string]any, q Query) bool {
	for key, want := range q {
		got, ok := obj[key].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}
