package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the layout of camera timestamp logs once the timezone
// token and the seventh fractional digit are removed.
const TimestampLayout = "2006-01-02T15:04:05.999999"

// decodeSSV converts a space separated timestamp log into seconds since start.
// Only the first field of each line is used.
func decodeSSV(data []byte, start time.Time) (Array, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var out []float64
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		ts, err := ParseTimestamp(fields[0])
		if err != nil {
			return Array{}, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ts.Sub(start).Seconds())
	}
	if err := sc.Err(); err != nil {
		return Array{}, err
	}
	return Vector(out), nil
}

// ParseTimestamp parses "2019-12-10T10:01:02.1234567-05:00" style values. The
// trailing "-HH:MM" or "+HH:MM" token is dropped along with the last fractional digit,
// and the result is read in UTC like the session start time.
func ParseTimestamp(s string) (time.Time, error) {
	cut := -1
	if strings.Count(s, "-") > 2 {
		cut = strings.LastIndex(s, "-")
	} else if i := strings.LastIndex(s, "+"); i > 0 {
		cut = i
	}
	if cut > 0 {
		s = s[:cut-1]
	}
	return time.Parse(TimestampLayout, s)
}

// sessionStartLayouts are the forms the database uses for start times
var sessionStartLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ParseSessionStart parses a session start time as stored by the database
func ParseSessionStart(s string) (time.Time, error) {
	for _, layout := range sessionStartLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized start time %q", s)
}
