package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".console"

// DataDir returns the base data directory for the console.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// TokenPath returns the path to the daemon token file.
func TokenPath() (string, error) {
	return dataFile("token")
}

// CoreConfigPath returns the path to the core TOML configuration.
func CoreConfigPath() (string, error) {
	return dataFile("config.toml")
}

// StreamLogPath returns the file that receives stream debug output.
func StreamLogPath() (string, error) {
	return dataFile("stream.log")
}

// TracesPath returns the JSONL file used by the "file" trace exporter.
func TracesPath() (string, error) {
	return dataFile("traces.jsonl")
}

func dataFile(name string) (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, name), nil
}
