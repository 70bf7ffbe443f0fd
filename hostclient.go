// Package hostclient exposes the executor builders.
package hostclient

import (
	"github.com/adamwoolhether/hostclient/client"
	"github.com/adamwoolhether/hostclient/client/hostconfig"
)

// New builds an executor for cfg with the provided options.
func New(cfg hostconfig.HostConfig, opts ...client.Option) (*client.Executor, error) {
	return client.New(cfg, opts...)
}

// NewShared builds an executor bound to hostURL with the shared pool preset.
func NewShared(hostURL string, opts ...client.Option) (*client.Executor, error) {
	cfg, err := hostconfig.Shared(hostURL)
	if err != nil {
		return nil, err
	}

	return client.New(cfg, opts...)
}

// Load builds an executor from the TOML file at path, overridden by
// environment variables carrying hostconfig.DefaultEnvPrefix.
func Load(path string, opts ...client.Option) (*client.Executor, error) {
	cfg, err := hostconfig.Load(path, hostconfig.DefaultEnvPrefix)
	if err != nil {
		return nil, err
	}

	return client.New(cfg, opts...)
}
