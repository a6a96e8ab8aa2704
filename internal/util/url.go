// url.go — URL path helpers shared by the rule matcher and the span encoder.
package util

import "net/url"

// ExtractURLPath returns the path+query portion of a raw request path, the
// shape the span encoder needs for the http.target attribute. The proxy
// hands the filter the path already separated from scheme/authority, but it
// may still carry a query string that needs to be preserved verbatim.
func ExtractURLPath(rawPath string) string {
	if rawPath == "" {
		return "/"
	}
	return rawPath
}

// SplitPathQuery splits a request path into its path and query components
// using net/url's parser. The returned path is the parsed (percent-decoded)
// path; a value that fails to parse is returned whole with an empty query.
func SplitPathQuery(rawPath string) (path, query string) {
	u, err := url.Parse(rawPath)
	if err != nil {
		return rawPath, ""
	}
	return u.Path, u.RawQuery
}
