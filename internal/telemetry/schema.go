package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// collectSchema 约束 /api/telemetry/collect 的上报体。
const collectSchema = `{
  "type": "object",
  "required": ["event", "device_id"],
  "properties": {
    "event": {"type": "string", "minLength": 1, "maxLength": 64},
    "device_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "key": {"type": "string", "maxLength": 64},
    "timezone": {"type": "string", "maxLength": 64},
    "properties": {"type": "object"}
  },
  "additionalProperties": false
}`

var compiledCollectSchema = mustCompile(collectSchema)

func mustCompile(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("collect.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("collect.json")
}

// CollectPayload 是通过校验的上报体。
type CollectPayload struct {
	Event      string         `json:"event"`
	DeviceID   string         `json:"device_id"`
	Key        string         `json:"key"`
	Timezone   string         `json:"timezone"`
	Properties map[string]any `json:"properties"`
}

// ParseCollectPayload 校验并解析上报体，不合法的载荷在入队前被拒绝。
func ParseCollectPayload(raw []byte) (CollectPayload, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return CollectPayload{}, fmt.Errorf("telemetry payload is not valid json: %w", err)
	}
	if err := compiledCollectSchema.Validate(generic); err != nil {
		return CollectPayload{}, fmt.Errorf("telemetry payload rejected: %w", err)
	}
	var payload CollectPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return CollectPayload{}, err
	}
	return payload, nil
}
