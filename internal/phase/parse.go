package phase

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// InvalidJSON is the error value placed in payloads that could not be decoded.
const InvalidJSON = "invalid_json"

var fencedBlock = regexp.MustCompile("(?s)```([A-Za-z0-9_-]*)[ \t]*\\r?\\n?(.*?)```")

// ParseAndValidate extracts the JSON object from raw and validates it against the
// phase's output schema. Decode failures produce {"error":"invalid_json","raw":raw}
// plus one validation error. Schema violations are returned alongside the payload.
func (e *Executor) ParseAndValidate(phaseID, raw string) (map[string]any, []string) {
	payload, err := decodePayload(raw)
	if err != nil {
		return map[string]any{"error": InvalidJSON, "raw": raw}, []string{"invalid JSON: " + err.Error()}
	}
	return payload, e.cfg.ValidateOutput(phaseID, payload)
}

func decodePayload(raw string) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errNullPayload
	}
	return payload, nil
}

var errNullPayload = errors.New("payload is null")

// extractJSON returns the body of the first ```json fence, else the first fence
// of any language, else the trimmed text.
func extractJSON(raw string) string {
	matches := fencedBlock.FindAllStringSubmatch(raw, -1)
	for _, m := range matches {
		if strings.EqualFold(m[1], "json") {
			return strings.TrimSpace(m[2])
		}
	}
	if len(matches) > 0 {
		return strings.TrimSpace(matches[0][2])
	}
	return strings.TrimSpace(raw)
}

// DecodeJSON decodes the JSON document embedded in an LLM reply into out, using
// the same fence handling as phase outputs.
func DecodeJSON(raw string, out any) error {
	return json.Unmarshal([]byte(extractJSON(raw)), out)
}
