package config

import (
	ct "github.com/launchdarkly/go-configtypes"
)

// LoadConfigFromEnvironment sets parameters in a Config struct from environment variables.
//
// The Config parameter should be initialized with default values first. Categories and mirrors
// can only be defined in the file.
func LoadConfigFromEnvironment(c *Config) error {
	reader := ct.NewVarReaderFromEnvironment()

	reader.ReadStruct(&c.Main, false)
	reader.ReadStruct(&c.Relay, false)
	reader.ReadStruct(&c.Merge, false)

	if !reader.Result().OK() {
		return reader.Result().GetError()
	}
	return nil
}
