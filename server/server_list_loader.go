package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const debounceConfigRereadDuration = time.Second * 5

// ServerListSchema declares the schema of the json file that can provide the backends to relay to
type ServerListSchema struct {
	Name    string            `json:"name,omitempty"`
	Servers []ServerListEntry `json:"servers"`
}

type ServerListEntry struct {
	ID    int    `json:"id"`
	IP    string `json:"ip"`
	Game  string `json:"game,omitempty"`
	Proxy string `json:"proxy,omitempty"`
}

type serverListLoader struct {
	fileName string
	sources  *BackendSources
	debounce time.Duration
}

func newServerListLoader(fileName string, sources *BackendSources) *serverListLoader {
	return &serverListLoader{
		fileName: fileName,
		sources:  sources,
		debounce: debounceConfigRereadDuration,
	}
}

// Load reads the file into the server-list source. A missing file is skipped.
func (r *serverListLoader) Load() error {
	logrus.WithField("serverList", r.fileName).Info("Loading server list file")

	config, readErr := r.readFile()
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			logrus.WithField("serverList", r.fileName).Info("Server list file does not exist, skipping reading it")
			return nil
		}
		return readErr
	}

	return r.sources.Set(SourceServerList, config.backends())
}

func (r *serverListLoader) WatchForChanges(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "Could not create a watcher")
	}

	err = watcher.Add(r.fileName)
	if err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "Could not watch the server list file")
	}

	go func() {
		logrus.WithField("file", r.fileName).Info("Watching server list file")

		debounceTimerChan := make(<-chan time.Time)
		var debounceTimer *time.Timer

		//goland:noinspection GoUnhandledErrorResult
		defer watcher.Close()
		for {
			select {

			case event, ok := <-watcher.Events:
				if !ok {
					logrus.Debug("Watcher events channel closed")
					return
				}
				logrus.
					WithField("file", event.Name).
					WithField("op", event.Op).
					Trace("fs event received")
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if debounceTimer == nil {
						debounceTimer = time.NewTimer(r.debounce)
					} else {
						debounceTimer.Reset(r.debounce)
					}
					debounceTimerChan = debounceTimer.C
					logrus.WithField("delay", r.debounce).Debug("Will re-read server list after delay")
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("Server list watcher error")

			case <-debounceTimerChan:
				if readErr := r.Load(); readErr != nil {
					logrus.
						WithError(readErr).
						WithField("serverList", r.fileName).
						Error("Could not re-read the server list file")
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (r *serverListLoader) readFile() (*ServerListSchema, error) {
	var config ServerListSchema

	content, err := os.ReadFile(r.fileName)
	if err != nil {
		return nil, errors.Wrap(err, "Could not load the server list file")
	}

	if err := json.Unmarshal(content, &config); err != nil {
		return nil, errors.Wrap(err, "Could not parse the json server list file")
	}

	return &config, nil
}

func (s *ServerListSchema) backends() []string {
	result := make([]string, 0, len(s.Servers))
	for _, server := range s.Servers {
		if server.IP != "" {
			result = append(result, server.IP)
		}
	}
	return result
}
