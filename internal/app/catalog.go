package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/EternisAI/tunnel-manager/internal/protocol"
	"github.com/EternisAI/tunnel-manager/internal/protocol/wireguard"
)

// ProtocolSpec describes one daemon target in protocols.yaml.
type ProtocolSpec struct {
	Flavour      wireguard.Flavour `yaml:"flavour"`
	Container    string            `yaml:"container"`
	Interface    string            `yaml:"interface"`
	ConfigDir    string            `yaml:"config_dir"`
	Tool         string            `yaml:"tool"`
	QuickTool    string            `yaml:"quick_tool"`
	EndpointPort int               `yaml:"endpoint_port"`
	// CommandTimeout is a Go duration string such as "2s".
	CommandTimeout string `yaml:"command_timeout"`
}

type Catalog struct {
	Protocols map[string]ProtocolSpec `yaml:"protocols"`
}

// DefaultCatalog is used when no protocols file exists.
func DefaultCatalog() Catalog {
	return Catalog{Protocols: map[string]ProtocolSpec{
		"amneziawg": {
			Flavour:   wireguard.FlavourAmneziaWG,
			Container: "amnezia-awg",
			Interface: "wg0",
			ConfigDir: "/opt/amnezia/awg",
		},
	}}
}

func (s ProtocolSpec) timeout() (time.Duration, error) {
	if s.CommandTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(s.CommandTimeout)
}

func (s *ProtocolSpec) applyDefaults() {
	if s.Flavour == "" {
		s.Flavour = wireguard.FlavourAmneziaWG
	}
	if s.Interface == "" {
		s.Interface = "wg0"
	}
	if s.Tool == "" {
		s.Tool = "wg"
		if s.Flavour == wireguard.FlavourAmneziaWG {
			s.Tool = "awg"
		}
	}
	if s.QuickTool == "" {
		s.QuickTool = s.Tool + "-quick"
	}
}

func (c Catalog) validate() error {
	if len(c.Protocols) == 0 {
		return errors.New("no protocols defined")
	}
	for name, entry := range c.Protocols {
		if protocol.Normalize(name) == "" {
			return errors.New("protocol name must not be empty")
		}
		if entry.Container == "" {
			return fmt.Errorf("protocol %s: container is required", name)
		}
		if entry.Flavour != wireguard.FlavourAmneziaWG && entry.Flavour != wireguard.FlavourWireGuard {
			return fmt.Errorf("protocol %s: unknown flavour %q", name, entry.Flavour)
		}
		if _, err := entry.timeout(); err != nil {
			return fmt.Errorf("protocol %s: command_timeout: %w", name, err)
		}
	}
	return nil
}

// LoadCatalog reads a protocols file. A missing file yields DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cat := DefaultCatalog()
		for name, entry := range cat.Protocols {
			entry.applyDefaults()
			cat.Protocols[name] = entry
		}
		return cat, nil
	}
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse protocols: %w", err)
	}
	for name, entry := range cat.Protocols {
		entry.applyDefaults()
		cat.Protocols[name] = entry
	}
	if err := cat.validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}
