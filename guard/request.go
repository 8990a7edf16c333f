package guard

import (
	"maps"
	"net/http"
	"strings"
)

// Request is the transport independent view of an incoming request.
type Request struct {
	Header     http.Header
	Cookies    map[string]string
	RemoteAddr string
}

// NewRequest builds a Request. header and cookies are copied.
func NewRequest(header http.Header, cookies map[string]string, remoteAddr string) *Request {
	return &Request{
		Header:     header.Clone(),
		Cookies:    maps.Clone(cookies),
		RemoteAddr: remoteAddr,
	}
}

// FromHTTP extracts headers, cookies and the remote address from r. When a
// cookie name repeats, the first value wins.
func FromHTTP(r *http.Request) *Request {
	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		if _, seen := cookies[c.Name]; !seen {
			cookies[c.Name] = c.Value
		}
	}
	return &Request{Header: r.Header.Clone(), Cookies: cookies, RemoteAddr: r.RemoteAddr}
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func (r *Request) BearerToken() (string, bool) {
	if r == nil {
		return "", false
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// BasicCredentials returns the username and password of an
// "Authorization: Basic" header.
func (r *Request) BasicCredentials() (username, password string, ok bool) {
	if r == nil {
		return "", "", false
	}
	return (&http.Request{Header: r.Header}).BasicAuth()
}

// Cookie returns the named cookie value.
func (r *Request) Cookie(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.Cookies[name]
	return v, ok && v != ""
}
