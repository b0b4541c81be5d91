package pull

import (
	"net/http"
	"net/url"
	"strings"
)

const nameParam = "name[]"

// parseNames collects the decoded values of every name[] parameter in a raw
// query string. Segments without "=" or with bad escapes are ignored.
func parseNames(rawQuery string) []string {
	if rawQuery == "" {
		return nil
	}

	var names []string

	for _, pair := range strings.Split(rawQuery, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		decodedKey, err := url.QueryUnescape(key)
		if err != nil || decodedKey != nameParam {
			continue
		}

		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}

		names = append(names, decodedValue)
	}

	return names
}

// acceptsGzip reports whether any comma-separated Accept-Encoding token is
// gzip, ignoring case and surrounding whitespace.
func acceptsGzip(h http.Header) bool {
	for _, header := range h.Values("Accept-Encoding") {
		for _, token := range strings.Split(header, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "gzip") {
				return true
			}
		}
	}

	return false
}
