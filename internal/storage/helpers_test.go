package storage

import "github.com/edisonibujes/CriptoIQ/internal/config"

func storeConfig(dsn string) config.StoreConfig {
	return config.StoreConfig{Backend: "postgres", DSN: dsn, MaxOpenConns: 2}
}
