// Package config implements the hot-reloadable configuration provider
// consumed by every other component. The core only ever reads a
// Snapshot; it never knows how one was produced. FileProvider is the
// concrete implementation used by cmd/server: it loads JSON once at boot
// and then watches the file with fsnotify, atomically swapping in a new
// Snapshot on every write so that settings like max_connections take
// effect without any consumer taking a lock.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"bedrock-netcore/internal/logging"
)

// CompressionAlgorithm selects the codec negotiated in NetworkSettings.
type CompressionAlgorithm string

const (
	CompressionNone    CompressionAlgorithm = "none"
	CompressionDeflate CompressionAlgorithm = "deflate"
	CompressionSnappy  CompressionAlgorithm = "snappy"
)

// Compression holds the negotiated codec and the size threshold below
// which payloads are sent uncompressed.
type Compression struct {
	Algorithm CompressionAlgorithm `json:"algorithm"`
	Threshold uint16                `json:"threshold"`
}

// Throttle configures the per-client admission budget consumed by the
// RakNet client layer.
type Throttle struct {
	Enabled   bool    `json:"enabled"`
	Scalar    float64 `json:"scalar"`
	Threshold int     `json:"threshold"`
}

// Snapshot is one immutable view of the server configuration. A Provider
// hands out pointers to Snapshot; holders never mutate what they are
// given, they re-fetch from the Provider.
type Snapshot struct {
	ListenAddr4       *net.UDPAddr
	ListenAddr6       *net.UDPAddr
	Compression       Compression
	Throttle          Throttle
	MaxConnections    int
	MaxRenderDistance int32
	MOTD              func() string
}

// Provider yields the current configuration snapshot. Mutations are rare
// and happen out of band (a file write, an admin command); readers never
// block on them.
type Provider interface {
	Current() *Snapshot
}

// fileDoc is the on-disk JSON shape loaded by FileProvider.
type fileDoc struct {
	ListenAddr4       string `json:"listen_addr4"`
	ListenAddr6       string `json:"listen_addr6,omitempty"`
	CompressionAlgo   string `json:"compression_algorithm"`
	CompressionThresh uint16 `json:"compression_threshold"`
	ThrottleEnabled   bool   `json:"throttle_enabled"`
	ThrottleScalar    float64 `json:"throttle_scalar"`
	ThrottleThreshold int    `json:"throttle_threshold"`
	MaxConnections    int    `json:"max_connections"`
	MaxRenderDistance int32  `json:"max_render_distance"`
	MOTD              string `json:"motd"`
}

// FileProvider reads its Snapshot from a JSON file and refreshes it
// whenever the file changes on disk.
type FileProvider struct {
	path    string
	current atomic.Pointer[Snapshot]
	watcher *fsnotify.Watcher
	log     *logging.Logger
}

// NewFileProvider loads path once and starts watching it for writes. The
// returned provider must be closed with Close when the server shuts down.
func NewFileProvider(path string) (*FileProvider, error) {
	fp := &FileProvider{path: path, log: logging.Named("config")}
	if err := fp.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	fp.watcher = watcher

	go fp.watchLoop()
	return fp, nil
}

func (fp *FileProvider) watchLoop() {
	for {
		select {
		case event, ok := <-fp.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := fp.reload(); err != nil {
				fp.log.Warn("reload %s failed, keeping previous snapshot: %v", fp.path, err)
				continue
			}
			fp.log.Info("configuration reloaded from %s", fp.path)
		case err, ok := <-fp.watcher.Errors:
			if !ok {
				return
			}
			fp.log.Warn("watcher error: %v", err)
		}
	}
}

func (fp *FileProvider) reload() error {
	raw, err := os.ReadFile(fp.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", fp.path, err)
	}

	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", fp.path, err)
	}

	addr4, err := net.ResolveUDPAddr("udp4", doc.ListenAddr4)
	if err != nil {
		return fmt.Errorf("config: listen_addr4: %w", err)
	}
	var addr6 *net.UDPAddr
	if doc.ListenAddr6 != "" {
		addr6, err = net.ResolveUDPAddr("udp6", doc.ListenAddr6)
		if err != nil {
			return fmt.Errorf("config: listen_addr6: %w", err)
		}
	}

	motd := doc.MOTD
	snap := &Snapshot{
		ListenAddr4: addr4,
		ListenAddr6: addr6,
		Compression: Compression{
			Algorithm: CompressionAlgorithm(doc.CompressionAlgo),
			Threshold: doc.CompressionThresh,
		},
		Throttle: Throttle{
			Enabled:   doc.ThrottleEnabled,
			Scalar:    doc.ThrottleScalar,
			Threshold: doc.ThrottleThreshold,
		},
		MaxConnections:    doc.MaxConnections,
		MaxRenderDistance: doc.MaxRenderDistance,
		MOTD:              func() string { return motd },
	}
	fp.current.Store(snap)
	return nil
}

// Current implements Provider.
func (fp *FileProvider) Current() *Snapshot { return fp.current.Load() }

// Close stops the file watcher.
func (fp *FileProvider) Close() error {
	if fp.watcher == nil {
		return nil
	}
	return fp.watcher.Close()
}

// Static is a Provider over a fixed Snapshot, useful for tests and for
// embedding the core in a process that already owns its own config
// loading pipeline.
type Static struct{ Snapshot *Snapshot }

// Current implements Provider.
func (s Static) Current() *Snapshot { return s.Snapshot }
