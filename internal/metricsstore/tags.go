package metricsstore

import (
	"encoding/json"
	"log/slog"
)

var log = slog.Default()

func encodeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return "{}"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeTags(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}
