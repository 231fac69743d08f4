package tools

import (
	"encoding/json"
	"strings"
)

type identified struct {
	ID string `json:"id"`
}

// ResultIDs extracts the "id" of every record in a tool result, which is
// either a single JSON object or an array of them.
func ResultIDs(result string) []string {
	result = strings.TrimSpace(result)
	if result == "" {
		return nil
	}
	switch result[0] {
	case '[':
		var many []identified
		if err := json.Unmarshal([]byte(result), &many); err != nil {
			return nil
		}
		ids := make([]string, 0, len(many))
		for _, m := range many {
			if m.ID != "" {
				ids = append(ids, m.ID)
			}
		}
		return ids
	case '{':
		var one identified
		if err := json.Unmarshal([]byte(result), &one); err != nil || one.ID == "" {
			return nil
		}
		return []string{one.ID}
	}
	return nil
}
