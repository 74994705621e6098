package payload

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/tastythames/fleetsync/internal/inventory"
)

// ErrLocalSourceMissing aborts a run before any satellite is contacted.
var ErrLocalSourceMissing = errors.New("local source missing")

type Kind int

const (
	SettingsFile Kind = iota + 1
	CacheTree
	FullBundle
)

func (k Kind) String() string {
	switch k {
	case SettingsFile:
		return "settings"
	case CacheTree:
		return "cache"
	case FullBundle:
		return "bundle"
	default:
		return "unknown"
	}
}

// IsTree reports whether the unit is a directory transfer.
func (k Kind) IsTree() bool { return k == CacheTree || k == FullBundle }

// Unit is one thing pushed to every satellite. For SettingsFile, RemotePath
// is the directory the file is copied into; for trees it is the directory
// whose contents mirror LocalPath.
type Unit struct {
	Kind       Kind
	Name       string
	LocalPath  string
	RemotePath string
	Optional   bool
}

func (u Unit) String() string {
	return u.Kind.String() + ":" + u.Name
}

// ForMode returns the ordered units of a run. Settings always precede the
// cache: consumers on the satellite only trust cache content once the
// matching settings are in place.
func ForMode(inv *inventory.Inventory, mode inventory.Mode) []Unit {
	switch mode {
	case inventory.ModePush:
		return forPush(inv.Push)
	case inventory.ModeAlign:
		return forAlign(inv.Align)
	}
	return nil
}

func forPush(cfg inventory.PushConfig) []Unit {
	return []Unit{
		{
			Kind:       SettingsFile,
			Name:       "settings",
			LocalPath:  cfg.SettingsFile,
			RemotePath: cfg.RemoteDir,
		},
		{
			Kind:       CacheTree,
			Name:       "cache",
			LocalPath:  cfg.CacheDir,
			RemotePath: path.Join(cfg.RemoteDir, "cache"),
		},
	}
}

func forAlign(cfg inventory.AlignConfig) []Unit {
	units := make([]Unit, 0, len(cfg.Bundles))
	for _, b := range cfg.Bundles {
		units = append(units, Unit{
			Kind:       FullBundle,
			Name:       b.Name,
			LocalPath:  b.Path,
			RemotePath: b.RemotePath,
			Optional:   b.Optional,
		})
	}
	return units
}

// Prepare checks every unit's local source. A missing required source fails
// the whole run; a missing optional one is dropped. An empty result is also
// ErrLocalSourceMissing since there would be nothing to push.
func Prepare(units []Unit, logger *slog.Logger) ([]Unit, error) {
	ready := make([]Unit, 0, len(units))
	for _, u := range units {
		err := checkSource(u)
		if err == nil {
			ready = append(ready, u)
			continue
		}
		if u.Optional {
			logger.Info("optional payload source not found, skipping", "unit", u, "path", u.LocalPath)
			continue
		}
		return nil, err
	}
	if len(ready) == 0 {
		return nil, fmt.Errorf("%w: no payload units available", ErrLocalSourceMissing)
	}
	return ready, nil
}

func checkSource(u Unit) error {
	if u.LocalPath == "" {
		return fmt.Errorf("%w: %s path not configured", ErrLocalSourceMissing, u)
	}
	fi, err := os.Stat(u.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLocalSourceMissing, u, err)
	}
	if u.Kind.IsTree() != fi.IsDir() {
		return fmt.Errorf("%w: %s: %s has the wrong type", ErrLocalSourceMissing, u, u.LocalPath)
	}
	return nil
}
