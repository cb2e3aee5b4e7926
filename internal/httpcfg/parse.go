package httpcfg

import (
	"bytes"

	"github.com/picoprov/picoprov/internal/radio"
)

// requestHeaderEnd separates the request head from the body.
var requestHeaderEnd = []byte("\r\n\r\n")

// connectPrefix is the request line that carries a credential submission.
var connectPrefix = []byte("POST /connect")

// ParseCredentials extracts the ssid and password fields from a submitted
// form body. The wire format is the fixed one the served form produces:
// literal "ssid=" and "password=" keys, '&'-delimited, with '+' standing
// for space. Values are truncated at the SSID and passphrase bounds. No
// percent-decoding is performed; see the package documentation for the
// compatibility consequences. ok is false when no ssid field is present.
func ParseCredentials(body []byte) (ssid, password string, ok bool) {
	v, found := formField(body, []byte("ssid="))
	if !found {
		return "", "", false
	}
	ssid = decodeValue(v, radio.MaxSSIDLen)

	if v, found := formField(body, []byte("password=")); found {
		password = decodeValue(v, radio.MaxPassphraseLen)
	}
	return ssid, password, true
}

// formField locates key in body and returns the bytes up to the next '&'
// or the end of the buffer.
func formField(body, key []byte) ([]byte, bool) {
	i := bytes.Index(body, key)
	if i < 0 {
		return nil, false
	}
	v := body[i+len(key):]
	if j := bytes.IndexByte(v, '&'); j >= 0 {
		v = v[:j]
	}
	return v, true
}

// decodeValue truncates to max bytes and maps '+' to space.
func decodeValue(v []byte, max int) string {
	if len(v) > max {
		v = v[:max]
	}
	out := make([]byte, len(v))
	for i, b := range v {
		if b == '+' {
			out[i] = ' '
		} else {
			out[i] = b
		}
	}
	return string(out)
}
