package models

// Record represents a single access-log line
type Record struct {
	TimeISO8601        string `json:"time_iso8601"`
	RemoteAddr         string `json:"remote_addr"`
	RemoteUser         string `json:"remote_user"`
	Request            string `json:"request"`
	HTTPReferer        string `json:"http_referer"`
	HTTPUserAgent      string `json:"http_user_agent"`
	HTTPAccept         string `json:"http_accept"`
	HTTPXForwardedFor  string `json:"http_x_forwarded_for"`
	HTTPCookie         string `json:"http_cookie"`
	Status             string `json:"status"`
	BytesSent          string `json:"bytes_sent"`
	BodyBytesSent      string `json:"body_bytes_sent"`
	Connection         string `json:"connection"`
	ConnectionRequests string `json:"connection_requests"`
}

// Signature is the part of a record that identifies a request pattern.
// It is comparable and used directly as a map key.
type Signature struct {
	Request           string `json:"request" yaml:"request" bson:"request"`
	HTTPReferer       string `json:"http_referer" yaml:"http_referer" bson:"http_referer"`
	HTTPUserAgent     string `json:"http_user_agent" yaml:"http_user_agent" bson:"http_user_agent"`
	HTTPAccept        string `json:"http_accept" yaml:"http_accept" bson:"http_accept"`
	HTTPXForwardedFor string `json:"http_x_forwarded_for" yaml:"http_x_forwarded_for" bson:"http_x_forwarded_for"`
	HTTPCookie        string `json:"http_cookie" yaml:"http_cookie" bson:"http_cookie"`
}

// Signature returns the grouping key of the record
func (r Record) Signature() Signature {
	return Signature{
		Request:           r.Request,
		HTTPReferer:       r.HTTPReferer,
		HTTPUserAgent:     r.HTTPUserAgent,
		HTTPAccept:        r.HTTPAccept,
		HTTPXForwardedFor: r.HTTPXForwardedFor,
		HTTPCookie:        r.HTTPCookie,
	}
}

// Summary is one output entry: a signature with its occurrence count and
// the first and last timestamps seen for it, in input order.
type Summary struct {
	Signature `yaml:",inline" bson:",inline"`
	Count     int    `json:"count" yaml:"count" bson:"count"`
	Earliest  string `json:"earliest" yaml:"earliest" bson:"earliest"`
	Latest    string `json:"latest" yaml:"latest" bson:"latest"`
}
