package pipeline

import (
	"encoding/json"
	"log"
	"time"
)

// logJSON writes one structured log line to stdout, matching the JSON log
// shape used elsewhere in the service.
func logJSON(data map[string]any) {
	data["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		data["level"] = "info"
	}
	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal pipeline log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
