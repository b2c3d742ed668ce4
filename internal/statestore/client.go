// Package statestore implements the mutually-authenticated, single shared
// connection to the external key/value state store (spec §4.7): GET,
// EXISTS, SET NX EX, ZADD and AUTH over TLS, serialized under a
// process-wide mutex so the non-thread-safe connection can be shared by
// many concurrent request goroutines.
package statestore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config describes how to reach and authenticate to the state store.
type Config struct {
	Addr         string // host:port
	ACLUser      string
	PasswordFile string // one line, trailing newline stripped

	CAFile   string
	CertFile string
	KeyFile  string
}

// Client is a single shared, mutex-serialized handle to the state store.
// Every exported method acquires the mutex for the duration of the call,
// matching the spec's "coarse lock, acceptable because per-call duration is
// short and the store is local-network" discipline.
type Client struct {
	mu        sync.Mutex
	cfg       Config
	tlsConfig *tls.Config
	password  string
	rdb       *redis.Client
	available bool
}

// New constructs the TLS material, reads and zeroes the password secret,
// and performs an initial connection. Any failure leaves the client
// unavailable rather than returning an error for every subsequent
// operation's fail-closed policy to apply; construction failures other than
// the initial connection attempt ARE returned, since they indicate a
// configuration error (category 1, fatal at startup).
func New(ctx context.Context, cfg Config) (*Client, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("statestore: building TLS config: %w", err)
	}

	password, err := readSecretFile(cfg.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("statestore: reading password file: %w", err)
	}

	c := &Client{cfg: cfg, tlsConfig: tlsCfg, password: password}
	c.rdb = c.newRedisClient()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.rdb.Ping(pingCtx).Err(); err != nil {
		c.available = false
	} else {
		c.available = true
	}

	return c, nil
}

func (c *Client) newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:      c.cfg.Addr,
		Username:  c.cfg.ACLUser,
		Password:  c.password,
		TLSConfig: c.tlsConfig,
	})
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client cert/key: %w", err)
	}

	caPEM, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no CA certificates found in %s", cfg.CAFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// readSecretFile reads a one-line secret, strips the trailing newline, and
// zeroes the intermediate buffer it read from disk. The returned Go string
// is still an immutable copy the runtime may relocate or retain — Go offers
// no safe way to zero string contents — so this is a best-effort measure
// matching the spirit (not the letter) of "zeroed from memory immediately
// after the authentication call".
func readSecretFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	s := strings.TrimRight(string(buf), "\n")
	for i := range buf {
		buf[i] = 0
	}
	return s, nil
}

// ensureConnected issues a cheap health probe and, on failure, attempts a
// single reconnect (and re-authentication). Must be called with c.mu held.
func (c *Client) ensureConnectedLocked(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.rdb.Ping(pingCtx).Err(); err == nil {
		c.available = true
		return nil
	}

	old := c.rdb
	replacement := c.newRedisClient()
	reconnectCtx, cancel2 := context.WithTimeout(ctx, 2*time.Second)
	defer cancel2()
	if err := replacement.Ping(reconnectCtx).Err(); err != nil {
		replacement.Close()
		c.available = false
		return fmt.Errorf("statestore: unavailable after reconnect attempt: %w", err)
	}

	c.rdb = replacement
	c.available = true
	old.Close()
	return nil
}

// Get implements GET polis:config:security_level → string. A missing key
// returns ("", nil), matching spec §4.6 ("missing key → Balanced").
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnectedLocked(ctx); err != nil {
		return "", err
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// Exists implements EXISTS polis:blocked:<req_id> → bool.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnectedLocked(ctx); err != nil {
		return false, err
	}
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetNX implements SET polis:ott:<ott_code> <json> NX EX <ttl>. The bool
// return is false ("already exists") when another request won the race.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnectedLocked(ctx); err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// ZAdd implements ZADD polis:log:events <score> <json>.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnectedLocked(ctx); err != nil {
		return err
	}
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// Available reports the last-known reachability of the store without
// issuing a new probe.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// Close tears down the connection under the mutex (spec §4.8,
// close-service).
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb.Close()
}
