package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// JSON encodes records with encoding/json. Workspaces written by older
// builds or external tooling use it.
type JSON struct{}

func (JSON) Name() string                       { return "json" }
func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// GoJSON encodes records with github.com/goccy/go-json. The output is
// plain JSON, so records written by either codec decode with the other.
type GoJSON struct{}

func (GoJSON) Name() string                       { return "go-json" }
func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
