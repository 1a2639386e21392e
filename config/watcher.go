package config

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Listener is invoked after a new configuration was loaded.
type Listener func(old, new *Config)

var (
	gLock      sync.RWMutex
	gConfig    *Config
	gListeners []Listener
)

func configFromFile(path string) (*Config, error) {
	config := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p := json.NewDecoder(f)
	p.DisallowUnknownFields()
	if err := p.Decode(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log.Infof("Loaded configuration: %v", spew.Sdump(config))
	return config, nil
}

func Get() *Config {
	gLock.RLock()
	defer gLock.RUnlock()
	return gConfig
}

// Set installs c as the current configuration without a file.
func Set(c *Config) {
	gLock.Lock()
	defer gLock.Unlock()
	gConfig = c
}

// OnChange registers a listener for configuration reloads.
func OnChange(l Listener) {
	gLock.Lock()
	defer gLock.Unlock()
	gListeners = append(gListeners, l)
}

func waitForChange(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-watcher.Errors:
		return err
	case <-watcher.Events:
	}
	// Let the writer finish.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second / 10):
	}
	return ctx.Err()
}

func reload(path string) {
	config, err := configFromFile(path)
	if err != nil {
		log.Errorf("Failed to load new config: %v", err)
		return
	}
	gLock.Lock()
	old := gConfig
	gConfig = config
	listeners := append([]Listener(nil), gListeners...)
	gLock.Unlock()

	if fields := RestartRequired(old, config); len(fields) > 0 {
		log.Warnf("Configuration changes to %v take effect after restart", fields)
	}
	for _, l := range listeners {
		l(old, config)
	}
}

// Load reads the configuration at path and reloads it whenever the file
// changes, until the context is done.
func Load(ctx context.Context, path string) error {
	config, err := configFromFile(path)
	if err != nil {
		return err
	}
	Set(config)
	go func() {
		for ctx.Err() == nil {
			if err := waitForChange(ctx, path); err != nil {
				if ctx.Err() == nil {
					log.Errorf("Error waiting for file change: %v", err)
					// The file may be mid-replace.
					time.Sleep(time.Second)
				}
				continue
			}
			reload(path)
		}
	}()
	return nil
}
