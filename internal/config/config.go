// Package config loads fitprotocold's StackConfig from YAML
// (gopkg.in/yaml.v3), replacing the teacher's hand-parsed, line-oriented
// config.go with the structured document format the rest of the pack
// uses. A StackConfig names a node's role, its PHY (simulated or real
// hardware), link/store tuning, and the host-control listener.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fitprotocol/fitp/addr"
	"github.com/fitprotocol/fitp/link"
	"github.com/fitprotocol/fitp/net"
	"github.com/fitprotocol/fitp/phy"
)

// Role selects a node's place in the fabric, matching net.Role's three
// variants but spelled out for YAML readability.
type Role string

const (
	RolePAN   Role = "pan"
	RoleCoord Role = "coord"
	RoleED    Role = "ed"
)

// NetRole maps a config Role onto net.Role.
func (r Role) NetRole() (net.Role, error) {
	switch r {
	case RolePAN:
		return net.PANRole, nil
	case RoleCoord:
		return net.CoordinatorRole, nil
	case RoleED:
		return net.EndDeviceRole, nil
	default:
		return 0, fmt.Errorf("config: unknown role %q", r)
	}
}

// PHYConfig configures the PHY instance fitprotocold brings up: either
// the in-process simulator (Simulate true, for local testing) or a real
// phy/serialradio.Radio.
type PHYConfig struct {
	Simulate bool `yaml:"simulate"`

	Device       string `yaml:"device"`
	BaudRate     int    `yaml:"baud_rate"`
	TXEnableChip string `yaml:"tx_enable_gpio_chip"`
	TXEnableLine int    `yaml:"tx_enable_gpio_line"`
	HamlibModel  int    `yaml:"hamlib_rig_model"`
	HamlibPort   string `yaml:"hamlib_port"`

	Channel      byte   `yaml:"channel"`
	Band         string `yaml:"band"` // "863", "863c950", "902", "915"
	BitrateKbps  int    `yaml:"bitrate_kbps"`
	TXPowerIndex int    `yaml:"tx_power_index"` // index into phy.PowerLevelsDBm
}

// phyBand parses the textual band name into a phy.Band.
func (p PHYConfig) phyBand() (phy.Band, error) {
	switch p.Band {
	case "", "863":
		return phy.Band863, nil
	case "863c950":
		return phy.Band863C950, nil
	case "902":
		return phy.Band902, nil
	case "915":
		return phy.Band915, nil
	default:
		return 0, fmt.Errorf("config: unknown band %q", p.Band)
	}
}

// Params renders the PHY section into a phy.Params suitable for Stack.Start.
func (p PHYConfig) Params() (phy.Params, error) {
	band, err := p.phyBand()
	if err != nil {
		return phy.Params{}, err
	}
	return phy.Params{
		Channel: p.Channel,
		Band:    band,
		Bitrate: phy.Bitrate(p.BitrateKbps),
		TXPower: phy.PowerLevel(p.TXPowerIndex),
	}, nil
}

// StackConfig is fitprotocold's top-level configuration document.
type StackConfig struct {
	Role    Role      `yaml:"role"`
	OwnEDID string    `yaml:"own_edid"` // 8 hex chars, coordinator/end-device only
	PHY     PHYConfig `yaml:"phy"`

	LinkMaxRetries int `yaml:"link_max_retries"`

	DeviceTablePath   string `yaml:"device_table_path"`
	RotateDeviceTable bool   `yaml:"rotate_device_table"`

	ControlAddr string `yaml:"control_addr"` // host:port for the host-control listener

	Advertise     bool   `yaml:"advertise"`      // PAN only: advertise ControlAddr via phy/discovery
	AdvertiseName string `yaml:"advertise_name"`
}

// Default returns a StackConfig usable for local simulator testing out of
// the box: a PAN listening on the loopback control address.
func Default() StackConfig {
	return StackConfig{
		Role:           RolePAN,
		PHY:            PHYConfig{Simulate: true, BitrateKbps: int(phy.Bitrate20)},
		LinkMaxRetries: 3,
		ControlAddr:    "127.0.0.1:4747",
		AdvertiseName:  "fitprotocold",
	}
}

// Load reads and parses a StackConfig from path, decoding it over Default()
// so that keys the file leaves out keep their default values, the way the
// teacher's config.go tolerates a partially specified file. A key the file
// sets explicitly, even to a zero value, overrides the default.
func Load(path string) (StackConfig, error) {
	var cfg = Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return StackConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return StackConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// EDID parses OwnEDID as 8 hex characters; the PAN role leaves it unset.
func (c StackConfig) EDID() (addr.EDID, error) {
	if c.OwnEDID == "" {
		return addr.EDID{}, nil
	}
	raw, err := hex.DecodeString(c.OwnEDID)
	if err != nil || len(raw) != 4 {
		return addr.EDID{}, fmt.Errorf("config: own_edid %q must be 8 hex characters", c.OwnEDID)
	}
	return addr.EDID{raw[0], raw[1], raw[2], raw[3]}, nil
}

// NetConfig builds a net.Config from this StackConfig, the glue between
// the YAML document and net.NewStack.
func (c StackConfig) NetConfig() (net.Config, error) {
	role, err := c.Role.NetRole()
	if err != nil {
		return net.Config{}, err
	}
	edid, err := c.EDID()
	if err != nil {
		return net.Config{}, err
	}
	var out = net.DefaultConfig(role, edid)
	out.DeviceTablePath = c.DeviceTablePath
	if c.LinkMaxRetries > 0 {
		out.Link = link.Config{MaxRetries: c.LinkMaxRetries}
	}
	return out, nil
}
