package types

import (
	"log/slog"
	"net/url"
)

const redacted = "[redacted]"

// SecretString is a credential such as the database or Slack webhook URL.
// Every formatting path (fmt verbs including %#v, encoding/json, slog) sees
// a placeholder; only Unmask yields the value.
type SecretString string

func (s SecretString) String() string   { return redacted }
func (s SecretString) GoString() string { return redacted }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s SecretString) LogValue() slog.Value {
	if s == "" {
		return slog.StringValue("")
	}
	return slog.StringValue(redacted)
}

func (s SecretString) IsSet() bool { return s != "" }

func (s SecretString) Unmask() string { return string(s) }

// Host returns the host[:port] of a URL-shaped secret, or "" when the value
// does not parse as an absolute URL. Credentials, path and query are dropped.
func (s SecretString) Host() string {
	u, err := url.Parse(string(s))
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
