package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// queryInt reads key from q as an int, falling back to def on absence or
// parse failure.
func queryInt(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryTime reads key from q as an RFC3339 timestamp, zero-valued on
// absence or parse failure (a filter's zero time means "no constraint").
func queryTime(q url.Values, key string) time.Time {
	v := q.Get(key)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// clampTimeout parses a seconds-valued timeout query param, capping it at
// maxLongPollTimeout per spec.md §4.H. A missing or invalid value falls
// back to def.
func clampTimeout(q url.Values, key string, def time.Duration) time.Duration {
	v := q.Get(key)
	if v == "" {
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return def
	}
	d := time.Duration(secs * float64(time.Second))
	if d > maxLongPollTimeout {
		return maxLongPollTimeout
	}
	return d
}

func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
