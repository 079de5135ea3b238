package config

import (
	"context"
	"os"
	"time"

	"github.com/yanun0323/logs"
)

// Watch polls path every interval and calls update with each new revision
// that loads cleanly. A revision that fails to load is retried on the next
// modification.
func Watch(ctx context.Context, path string, interval time.Duration, update func(Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Errorf("config stat %s, err: %+v", path, err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			loaded, err := Load(path)
			if err != nil {
				logs.Errorf("config reload %s, err: %+v", path, err)
				continue
			}
			update(loaded)
			logs.Infof("config reloaded: %s", path)
		}
	}
}
