package config

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Tuning holds settings that may change while streaming.
type Tuning struct {
	// JPEGQuality of published frames, zero keeps the default.
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality" validate:"omitempty,min=1,max=100"`
	// MaxClientFPS limits each newly connected viewer, zero is unlimited.
	MaxClientFPS float64 `json:"max_client_fps" yaml:"max_client_fps" validate:"min=0"`
	// MinConfidence hides weaker detections from the overlay.
	MinConfidence float32 `json:"min_confidence" yaml:"min_confidence" validate:"min=0,max=1"`
}

func decodeTuning(r io.Reader, yamlFormat bool) (*Tuning, error) {
	var t Tuning
	if yamlFormat {
		if err := yaml.NewDecoder(r).Decode(&t); err != nil && err != io.EOF {
			return nil, err
		}
	} else {
		if err := json.NewDecoder(r).Decode(&t); err != nil {
			return nil, err
		}
	}
	if err := validator.New().Struct(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

func tuningFromFile(path string) (*Tuning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ext := strings.ToLower(filepath.Ext(path))
	t, err := decodeTuning(f, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, err
	}
	log.Infof("Loaded tuning: %v", spew.Sdump(*t))
	return t, nil
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

// WatchTuning loads path, hands it to apply and calls apply again every time
// the file changes, until ctx is done. Invalid revisions are logged and
// skipped.
func WatchTuning(ctx context.Context, path string, apply func(*Tuning)) error {
	t, err := tuningFromFile(path)
	if err != nil {
		return err
	}
	apply(t)
	go func() {
		for ctx.Err() == nil {
			if err := waitForChange(ctx, path); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Errorf("Error waiting for file change: %v", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
				continue
			}

			t, err := tuningFromFile(path)
			if err != nil {
				log.Errorf("Failed to load new tuning: %v", err)
				continue
			}
			apply(t)
		}
	}()
	return nil
}
