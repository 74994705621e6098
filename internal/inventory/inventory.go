package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxSatellites is the number of satellite slots read from the config.
// Entries beyond it are ignored.
const MaxSatellites = 5

type Mode string

const (
	// ModePush replicates the settings file and the cache tree.
	ModePush Mode = "push"
	// ModeAlign replicates whole application bundles.
	ModeAlign Mode = "align"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePush:
		return ModePush, nil
	case ModeAlign:
		return ModeAlign, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want push or align)", s)
	}
}

type Inventory struct {
	Satellites      []string        `yaml:"satellites"`
	MaxFanout       int             `yaml:"max_fanout"`
	TransferTimeout time.Duration   `yaml:"transfer_timeout"`
	SSH             SSHConfig       `yaml:"ssh"`
	Push            PushConfig      `yaml:"push"`
	Align           AlignConfig     `yaml:"align"`
	Lifecycle       LifecycleConfig `yaml:"lifecycle"`
}

type SSHConfig struct {
	User                string        `yaml:"user"`
	Port                int           `yaml:"port"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	KnownHosts          string        `yaml:"known_hosts"`
	InsecureSkipHostKey bool          `yaml:"insecure_skip_host_key"`
	Auth                AuthConfig    `yaml:"auth"`
}

type AuthConfig struct {
	KeyPath string `yaml:"key_path"`
	// Agent enables keys from $SSH_AUTH_SOCK.
	Agent bool `yaml:"agent"`
}

// PushConfig covers the settings+cache sync.
type PushConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Restart      *bool  `yaml:"restart"`
	SettingsFile string `yaml:"settings_file"`
	CacheDir     string `yaml:"cache_dir"`
	// RemoteDir receives the settings file; the cache lands in RemoteDir/cache.
	RemoteDir string `yaml:"remote_dir"`
}

// AlignConfig covers the full-bundle sync.
type AlignConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Restart    *bool    `yaml:"restart"`
	RemoteRoot string   `yaml:"remote_root"`
	Bundles    []Bundle `yaml:"bundles"`
}

type Bundle struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	RemotePath string `yaml:"remote_path"`
	// Optional bundles are dropped from the run when Path is absent.
	Optional bool `yaml:"optional"`
}

type LifecycleConfig struct {
	Notify        *bool         `yaml:"notify"`
	NotifyTitle   string        `yaml:"notify_title"`
	NotifyMessage string        `yaml:"notify_message"`
	Process       string        `yaml:"process"`
	Grace         time.Duration `yaml:"grace"`
}

func Load(path string) (*Inventory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(b, &inv); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	inv.normalize()
	return &inv, nil
}

func (inv *Inventory) normalize() {
	if inv.MaxFanout <= 0 {
		inv.MaxFanout = MaxSatellites
	}
	if inv.TransferTimeout <= 0 {
		inv.TransferTimeout = 30 * time.Minute
	}

	if inv.SSH.User == "" {
		inv.SSH.User = "root"
	}
	if inv.SSH.Port <= 0 {
		inv.SSH.Port = 22
	}
	if inv.SSH.ConnectTimeout <= 0 {
		inv.SSH.ConnectTimeout = 5 * time.Second
	}
	inv.SSH.KnownHosts = expandHome(inv.SSH.KnownHosts)
	inv.SSH.Auth.KeyPath = expandHome(inv.SSH.Auth.KeyPath)

	if inv.Push.Restart == nil {
		inv.Push.Restart = boolPtr(false)
	}
	if inv.Push.RemoteDir == "" {
		inv.Push.RemoteDir = "/storage/.kodi/userdata/addon_data/script.paragontv"
	}
	inv.Push.SettingsFile = expandHome(inv.Push.SettingsFile)
	inv.Push.CacheDir = expandHome(inv.Push.CacheDir)

	if inv.Align.Restart == nil {
		inv.Align.Restart = boolPtr(true)
	}
	if inv.Align.RemoteRoot == "" {
		inv.Align.RemoteRoot = "/storage/.kodi/addons"
	}
	for i := range inv.Align.Bundles {
		b := &inv.Align.Bundles[i]
		b.Path = expandHome(b.Path)
		if b.Name == "" {
			b.Name = filepath.Base(filepath.Clean(b.Path))
		}
		if b.RemotePath == "" {
			b.RemotePath = inv.Align.RemoteRoot + "/" + b.Name
		}
	}

	if inv.Lifecycle.Notify == nil {
		inv.Lifecycle.Notify = boolPtr(true)
	}
	if inv.Lifecycle.Process == "" {
		inv.Lifecycle.Process = "kodi.bin"
	}
	switch {
	case inv.Lifecycle.Grace <= 0:
		inv.Lifecycle.Grace = 10 * time.Second
	case inv.Lifecycle.Grace < time.Second:
		// The remote sleep has one-second resolution.
		inv.Lifecycle.Grace = time.Second
	}
	if inv.Lifecycle.NotifyTitle == "" {
		inv.Lifecycle.NotifyTitle = "Satellite Sync"
	}
	if inv.Lifecycle.NotifyMessage == "" {
		inv.Lifecycle.NotifyMessage = fmt.Sprintf("Satellite updated. Restarting in %d seconds.",
			int(inv.Lifecycle.Grace/time.Second))
	}
}

// Enabled reports whether the given mode is switched on.
func (inv *Inventory) Enabled(mode Mode) bool {
	switch mode {
	case ModePush:
		return inv.Push.Enabled
	case ModeAlign:
		return inv.Align.Enabled
	}
	return false
}

// RestartAfterSync reports whether updated nodes get their host process
// restarted in the given mode.
func (inv *Inventory) RestartAfterSync(mode Mode) bool {
	switch mode {
	case ModePush:
		return inv.Push.Restart != nil && *inv.Push.Restart
	case ModeAlign:
		return inv.Align.Restart != nil && *inv.Align.Restart
	}
	return false
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func boolPtr(b bool) *bool { return &b }
