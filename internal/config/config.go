// Package config loads node and gateway configuration through spf13/viper,
// layered defaults -> optional YAML file -> EDGEMESH_-prefixed environment
// variables -> CLI flags bound through spf13/cobra, following cmd/start.go's
// flag style but adding the file/env layers viper contributes. Validation
// follows node/config.go's shape: a Validate() method on the config struct
// returning sentinel errors from this package.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	ErrMissingNodeID    = errors.New("config: node_id must be set")
	ErrMissingGatewayID = errors.New("config: gateway_id must be set")
	ErrInvalidPort      = errors.New("config: port must be between 0 and 65535 (0 picks a free port)")
	ErrInvalidInterval  = errors.New("config: interval must be positive")
	ErrInvalidOrchestrator = errors.New("config: orchestrator must be \"containerd\" or \"fake\"")
)

// newViper builds a viper instance wired to read an optional config file
// (bound with --config), EDGEMESH_-prefixed env vars, and the flags already
// registered on cmd.
func newViper(cmd *cobra.Command, configFlagName string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("EDGEMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path, _ := cmd.Flags().GetString(configFlagName); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}
