package lookup

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"

	consulapi "github.com/hashicorp/consul/api"
)

// Resolver yields the base URL of a collaborator service.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticResolver always returns the same base URL.
type StaticResolver string

func (s StaticResolver) Resolve(context.Context) (string, error) {
	return strings.TrimRight(string(s), "/"), nil
}

// ConsulResolver picks a healthy instance of a service registered in Consul.
type ConsulResolver struct {
	client  *consulapi.Client
	service string
	scheme  string
}

func NewConsulResolver(client *consulapi.Client, service string) *ConsulResolver {
	return &ConsulResolver{client: client, service: service, scheme: "http"}
}

// NewConsulClient connects to the Consul agent at addr.
func NewConsulClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

func (r *ConsulResolver) Resolve(ctx context.Context) (string, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	entries, _, err := r.client.Health().Service(r.service, "", true, q)
	if err != nil {
		return "", fmt.Errorf("%w: discover %s: %w", ErrUnavailable, r.service, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: no healthy instances of %s", ErrUnavailable, r.service)
	}

	e := entries[rand.Intn(len(entries))]
	host := e.Service.Address
	if host == "" {
		host = e.Node.Address
	}
	return fmt.Sprintf("%s://%s", r.scheme, net.JoinHostPort(host, strconv.Itoa(e.Service.Port))), nil
}
