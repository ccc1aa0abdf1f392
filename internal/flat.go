package ljarchive

import (
	"regexp"
	"strings"
)

var (
	chunkedTailRegex = regexp.MustCompile(`\n\n0\r?\n?$`) // terminator sent by old protocol versions
	firstLineRegex   = regexp.MustCompile(`^.*\n`)
)

// Response is a parsed flat protocol answer. Keys keep the order the server sent them in.
type Response struct {
	keys   []string
	values map[string]string
}

// NewResponse builds a Response from alternating key/value strings.
func NewResponse(pairs ...string) *Response {
	r := &Response{values: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

// Set adds or replaces a key. New keys are appended to the key order.
func (r *Response) Set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r *Response) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value stored under key or "".
func (r *Response) Value(key string) string {
	return r.values[key]
}

// Keys returns the keys in server order.
func (r *Response) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of keys.
func (r *Response) Len() int {
	return len(r.keys)
}

func (r *Response) delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// ParseFlat decodes a flat protocol body: lines alternate between keys and values.
// A missing or failed success flag is reported as a *ServerError.
func ParseFlat(body string) (*Response, error) {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if chunkedTailRegex.MatchString(body) {
		body = firstLineRegex.ReplaceAllString(body, "")
		body = chunkedTailRegex.ReplaceAllString(body, "")
	}

	lines := strings.Split(body, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	r := NewResponse()
	for i := 0; i < len(lines); i += 2 {
		value := ""
		if i+1 < len(lines) {
			value = lines[i+1]
		}
		r.Set(lines[i], value)
	}

	success, ok := r.Get("success")
	if !ok || success == "FAIL" {
		if msg, ok := r.Get("errmsg"); ok {
			return nil, &ServerError{Message: msg}
		}
		return nil, &ServerError{Message: "server returned an error flag without a message"}
	}
	r.delete("success")
	return r, nil
}
