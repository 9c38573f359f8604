package fixture

import (
	"net/http"
	"strconv"
	"strings"
	"unicode"
)

// Header is a single fixture header in the order it was written.
type Header struct {
	Name  string
	Value string
}

// Response is a parsed fixture.
type Response struct {
	StatusCode int
	Headers    []Header
	Body       string
}

// Get returns the value of the named header, matched case-insensitively.
// When several spellings are present the last one written wins.
func (r Response) Get(name string) string {
	value := ""
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			value = h.Value
		}
	}
	return value
}

// IsJSON reports whether the fixture declares a JSON content type.
func (r Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.Get("Content-Type")), "application/json")
}

// SendableStatus reports whether status can be written as a final response.
// Informational codes other than 101 go out as interim responses, after which
// net/http sends its own 200 and the fixture body is lost.
func SendableStatus(status int) bool {
	switch {
	case status == http.StatusSwitchingProtocols:
		return true
	case status < 200 || status > 999:
		return false
	}
	return true
}

func (r *Response) set(name, value string) {
	for i := range r.Headers {
		if r.Headers[i].Name == name {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// Parse reads raw HTTP response text: an optional status line, a header
// block, a blank line, and the body. It never fails; malformed input
// degrades to defaults.
//
// Without an "HTTP/" first line the status is 200 and the first line is read
// as a header.
func Parse(content []byte) Response {
	lines := strings.Split(strings.ReplaceAll(string(content), "\r", ""), "\n")
	resp := Response{StatusCode: http.StatusOK}

	idx := 0
	if strings.HasPrefix(lines[0], "HTTP/") {
		resp.StatusCode = parseStatusCode(lines[0])
		idx++
	}

	for ; idx < len(lines) && strings.TrimSpace(lines[idx]) != ""; idx++ {
		name, value, ok := strings.Cut(lines[idx], ":")
		if !ok {
			continue
		}
		resp.set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	for idx < len(lines) && strings.TrimSpace(lines[idx]) == "" {
		idx++
	}

	resp.Body = strings.Join(lines[idx:], "\n")
	return resp
}

// HasStatusLine reports whether content starts with an HTTP status line.
func HasStatusLine(content []byte) bool {
	return strings.HasPrefix(strings.TrimLeft(string(content), "\r"), "HTTP/")
}

// parseStatusCode reads the leading digits of the second space-separated
// token. Anything unusable, including zero or a negative sign, yields 200.
func parseStatusCode(line string) int {
	parts := strings.Split(line, " ")
	if len(parts) < 2 {
		return http.StatusOK
	}

	token := strings.TrimLeftFunc(parts[1], unicode.IsSpace)
	token = strings.TrimPrefix(token, "+")
	end := 0
	for end < len(token) && token[end] >= '0' && token[end] <= '9' {
		end++
	}
	if end == 0 {
		return http.StatusOK
	}

	code, err := strconv.Atoi(token[:end])
	if err != nil || code <= 0 {
		return http.StatusOK
	}
	return code
}
