// Package config holds the settings of the assemble command and the history
// server, their defaults and validation.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// ServerConfig configures the run history API.
type ServerConfig struct {
	Addr              string
	HistoryDB         string
	ReadHeaderTimeout time.Duration
	ShutdownGrace     time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              ":8080",
		HistoryDB:         DefaultHistoryDB(),
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownGrace:     5 * time.Second,
	}
}

// DefaultHistoryDB is ~/.hybpiper/history.db, or a file in the working
// directory when there is no home.
func DefaultHistoryDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hybpiper-history.db"
	}
	return filepath.Join(home, ".hybpiper", "history.db")
}
