package hostconfig

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/adamwoolhether/hostclient/client/errs"
)

// DefaultEnvPrefix namespaces environment overrides, e.g.
// HOSTCLIENT_POOL_SIZE=20.
const DefaultEnvPrefix = "HOSTCLIENT_"

// Load builds a HostConfig from layered sources: built-in defaults, then
// the TOML file at path when path is non-empty, then environment variables
// carrying prefix. Options are applied last. Loaded configs default to a
// pool of LoadPoolSize.
func Load(path, prefix string, opts ...Option) (HostConfig, error) {
	k := koanf.New(".")

	def := defaults()
	def.PoolSize = LoadPoolSize

	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		return HostConfig{}, errs.Config("load defaults", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return HostConfig{}, errs.Config("load file", fmt.Errorf("%s: %w", path, err))
		}
	}

	if prefix != "" {
		if err := k.Load(env.Provider(prefix, ".", func(source string) string {
			return strings.ToLower(strings.TrimPrefix(source, prefix))
		}), nil); err != nil {
			return HostConfig{}, errs.Config("load env", err)
		}
	}

	var cfg HostConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return HostConfig{}, errs.Config("load unmarshal", err)
	}

	if cfg.HostURL != "" {
		opts = append([]Option{WithHost(cfg.HostURL)}, opts...)
	}

	return build(cfg, opts...)
}
