package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Dial returns a Dialer for the given connection string. Supported schemes
// are redis, rediss and unix (Redis) and consul, consul+http and consul+https
// (Consul KV). A string without a scheme, such as "localhost:6379", is taken
// to be a Redis address.
func Dial(connString string) (Dialer, error) {
	u, err := parseConnString(connString)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "redis", "rediss", "unix":
		raw := u.String()
		return func(ctx context.Context) (Store, error) {
			return NewRedis(ctx, raw)
		}, nil
	case "consul", "consul+http", "consul+https":
		return func(ctx context.Context) (Store, error) {
			return NewConsul(ctx, u, nil)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}

// Open dials connString and wraps the result in a reconnecting Conn.
func Open(ctx context.Context, connString string) (*Conn, error) {
	dial, err := Dial(connString)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, dial)
}

func parseConnString(s string) (*url.URL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty store connection string")
	}

	if !strings.Contains(s, "://") {
		s = "redis://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid store connection string: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}
