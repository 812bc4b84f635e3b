package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
)

// decodeTable parses a comma or tab separated file with a header row.
// Duplicate column names get ".1", ".2" suffixes.
func decodeTable(data []byte, sep rune) (Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sep
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return Table{}, err
	}
	if len(rows) == 0 {
		return Table{}, nil
	}
	t := Table{Columns: dedupeColumns(rows[0]), Rows: rows[1:]}
	return t, nil
}

func dedupeColumns(cols []string) []string {
	seen := make(map[string]int, len(cols))
	out := make([]string, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(c)
		if n, ok := seen[c]; ok {
			seen[c] = n + 1
			out[i] = fmt.Sprintf("%s.%d", c, n+1)
			continue
		}
		seen[c] = 0
		out[i] = c
	}
	return out
}

// decodeJSON reads one JSON document or a list of documents
func decodeJSON(data []byte) (Records, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var many []map[string]interface{}
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, err
		}
		return Records(many), nil
	}
	var one map[string]interface{}
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, err
	}
	return Records{one}, nil
}
