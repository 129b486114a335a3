package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"alerthub/internal/logger"
)

// reloadDebounce 合并一次保存产生的多个事件（截断 + 写入、rename + create）
const reloadDebounce = 100 * time.Millisecond

// Watch 监听配置文件，每次保存后重新加载并回调 onChange，直到 ctx 取消。
// 加载或校验失败、文件为空或不存在时保留旧配置，不回调。
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return watch(ctx, path, onChange, nil)
}

// watch 监听文件所在目录而不是文件本身，原子保存替换 inode 后仍能收到事件。
// ready 在监听建立后调用。
func watch(ctx context.Context, path string, onChange func(*Config), ready func()) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	log := logger.Named("config")
	log.Info("watching config file", zap.String("path", path))
	if ready != nil {
		ready()
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			cfg, err := reload(path)
			if err != nil {
				log.Error("config reload failed, keeping previous config", zap.String("path", path), zap.Error(err))
				continue
			}
			if cfg == nil {
				log.Debug("config file empty or missing, waiting for next write", zap.String("path", path))
				continue
			}
			log.Info("config reloaded", zap.String("path", path))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("config watcher error", zap.Error(err))
		}
	}
}

// reload returns nil, nil for a missing or empty file: a save in progress,
// not a request to fall back to defaults.
func reload(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.Size() == 0 {
		return nil, nil
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
