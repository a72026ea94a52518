package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	chunkSize           int64 = 256 * 1024 * 1024
	workers                   = 0
	maxRetries                = 3
	retryDelay                = 2 * time.Second
	maxConcurrentChunks       = 0
	autoClean                 = false
	remoteType                = RemoteFS
)

var (
	stateDir   = filepath.Join(xdg.DataHome, appName)
	remoteRoot = filepath.Join(xdg.DataHome, appName, "remote")
)
