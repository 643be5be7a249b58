package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "BULKMUTATE_CONFIG"
	EnvInput   = "BULKMUTATE_INPUT"
	EnvWorkDir = "BULKMUTATE_WORK_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // BULKMUTATE_CONFIG: override config file path
	Input      string // BULKMUTATE_INPUT: input file override
	WorkDir    string // BULKMUTATE_WORK_DIR: directory relative paths resolve against
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Input:      os.Getenv(EnvInput),
		WorkDir:    os.Getenv(EnvWorkDir),
	}
}
