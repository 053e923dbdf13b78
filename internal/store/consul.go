package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"kvfs/internal/logging"

	"github.com/hashicorp/consul/api"
)

var (
	consulLogger = logging.GetLogger().WithPrefix("consul")
)

// Consul is a Store backed by the Consul KV API. Consul values carry no type,
// so every key is a simple value except folder keys (ending in "/"), which
// are reported as composite.
type Consul struct {
	client *api.Client
	kv     *api.KV
	addr   string
}

var _ Store = (*Consul)(nil)

// consulAddress turns consul://, consul+http:// and consul+https:// URLs into
// the address form the Consul client expects. An empty host leaves the
// client defaults (CONSUL_HTTP_ADDR or 127.0.0.1:8500) in effect.
func consulAddress(u *url.URL) string {
	if u.Host == "" {
		return ""
	}

	scheme := strings.TrimPrefix(u.Scheme, "consul+")
	if scheme == "consul" {
		scheme = "http"
	}

	return scheme + "://" + u.Host
}

// NewConsul creates a client for the agent at u and verifies the cluster has
// a leader. config may be nil; when set it is used as the base client
// configuration.
func NewConsul(ctx context.Context, u *url.URL, config *api.Config) (*Consul, error) {
	if config == nil {
		config = api.DefaultConfig()
	}

	if addr := consulAddress(u); addr != "" {
		config.Address = addr
	}
	if token := u.Query().Get("token"); token != "" {
		config.Token = token
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("consul client creation failed: %w", err)
	}

	c := &Consul{
		client: client,
		kv:     client.KV(),
		addr:   config.Address,
	}

	consulLogger.Debug("Connecting to consul at %s", c.addr)
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Consul) queryOptions(ctx context.Context) *api.QueryOptions {
	return (&api.QueryOptions{}).WithContext(ctx)
}

func (c *Consul) Keys(ctx context.Context) ([]string, error) {
	keys, _, err := c.kv.Keys("", "", c.queryOptions(ctx))
	if err != nil {
		return nil, unavailable("kv.Keys", err)
	}
	consulLogger.Trace("kv.Keys returned %d keys", len(keys))
	return keys, nil
}

// Kind does not contact the agent: folders are recognised by name and a key
// removed since enumeration surfaces as ErrNotFound from Get.
func (c *Consul) Kind(_ context.Context, key string) (Kind, error) {
	if key == "" {
		return KindNone, nil
	}
	if strings.HasSuffix(key, "/") {
		return KindComposite, nil
	}
	return KindValue, nil
}

func (c *Consul) Get(ctx context.Context, key string) ([]byte, error) {
	pair, _, err := c.kv.Get(key, c.queryOptions(ctx))
	if err != nil {
		return nil, unavailable("kv.Get", err)
	}
	if pair == nil {
		return nil, fmt.Errorf("kv.Get %q: %w", key, ErrNotFound)
	}
	return pair.Value, nil
}

func (c *Consul) Set(ctx context.Context, key string, value []byte) error {
	_, err := c.kv.Put(&api.KVPair{Key: key, Value: value}, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return unavailable("kv.Put", err)
	}
	return nil
}

// Ping asks the agent for the current raft leader; an empty answer means the
// cluster cannot serve KV requests.
func (c *Consul) Ping(ctx context.Context) error {
	leader, err := c.client.Status().LeaderWithQueryOptions(c.queryOptions(ctx))
	if err != nil {
		return unavailable("consul status "+c.addr, err)
	}
	if leader == "" {
		return unavailable("consul status "+c.addr, fmt.Errorf("no cluster leader"))
	}
	return nil
}

// Close is a no-op; the Consul client holds no persistent connection.
func (c *Consul) Close() error {
	return nil
}

func (c *Consul) String() string {
	return "consul+" + c.addr
}
