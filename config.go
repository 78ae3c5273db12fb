package pfwall

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Config is the declarative bootstrap for an Engine: the default action
// and an initial filter/NAT rule set. The constants in consts.go are fixed
// at compile time and are not read from a Config.
// It is loaded once at startup, not a live-reload facility.
type Config struct {
	DefaultAction string `hcl:"default_action,optional"`

	FilterRules []ConfigFilterRule `hcl:"filter_rule,block"`
	NatRules    []ConfigNatRule    `hcl:"nat_rule,block"`
}

// ConfigFilterRule is the HCL-decodable form of a FilterRule; its string
// fields are parsed into addr.go/packet.go types by (Config).FilterRuleSet.
type ConfigFilterRule struct {
	Name     string `hcl:"name,label"`
	SrcNet   string `hcl:"src_net,optional"`
	DstNet   string `hcl:"dst_net,optional"`
	SrcPorts string `hcl:"src_ports,optional"`
	DstPorts string `hcl:"dst_ports,optional"`
	Protocol string `hcl:"protocol,optional"`
	Action   string `hcl:"action"`
	Log      bool   `hcl:"log,optional"`
}

// ConfigNatRule is the HCL-decodable form of a NatRule.
type ConfigNatRule struct {
	SrcNet   string `hcl:"src_net"`
	NatIP    string `hcl:"nat_ip"`
	PortPool string `hcl:"port_pool"`
}

// DefaultConfig returns the zero-rule configuration with default_action =
// ACCEPT (spec.md §4.2).
func DefaultConfig() Config {
	return Config{DefaultAction: "accept"}
}

// LoadConfig decodes an HCL configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := hclsimple.Decode(path, data, nil, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = "accept"
	}
	return cfg, nil
}

// SaveConfig serializes cfg to an HCL file at path, in the format LoadConfig
// reads back (round-trip), using hclwrite bodies built from cty values —
// the pattern grimm-is-flywall's config serializer uses to write HCL back
// out from an in-memory struct.
func SaveConfig(path string, cfg Config) error {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	body.SetAttributeValue("default_action", cty.StringVal(cfg.DefaultAction))

	for _, r := range cfg.FilterRules {
		block := body.AppendNewBlock("filter_rule", []string{r.Name})
		rb := block.Body()
		rb.SetAttributeValue("src_net", cty.StringVal(r.SrcNet))
		rb.SetAttributeValue("dst_net", cty.StringVal(r.DstNet))
		rb.SetAttributeValue("src_ports", cty.StringVal(r.SrcPorts))
		rb.SetAttributeValue("dst_ports", cty.StringVal(r.DstPorts))
		rb.SetAttributeValue("protocol", cty.StringVal(r.Protocol))
		rb.SetAttributeValue("action", cty.StringVal(r.Action))
		rb.SetAttributeValue("log", cty.BoolVal(r.Log))
	}
	for _, r := range cfg.NatRules {
		block := body.AppendNewBlock("nat_rule", nil)
		rb := block.Body()
		rb.SetAttributeValue("src_net", cty.StringVal(r.SrcNet))
		rb.SetAttributeValue("nat_ip", cty.StringVal(r.NatIP))
		rb.SetAttributeValue("port_pool", cty.StringVal(r.PortPool))
	}
	return os.WriteFile(path, f.Bytes(), 0o644)
}

func parseProtocol(s string) (uint8, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return ProtocolAny, nil
	case "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	case "icmp":
		return ProtocolICMP, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

func parseAction(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept":
		return Accept, nil
	case "drop":
		return Drop, nil
	default:
		return Accept, fmt.Errorf("unknown action %q", s)
	}
}

func parseOptionalNet(s string) (Net, error) {
	if s == "" || s == "any" {
		return AnyNet, nil
	}
	return ParseNet(s)
}

func parseOptionalPorts(s string) (PortRange, error) {
	if s == "" {
		return AnyPortRange, nil
	}
	return ParsePortRange(s)
}

// FilterRuleSet converts the decoded ConfigFilterRules into engine rules.
func (c Config) FilterRuleSet() ([]*FilterRule, error) {
	out := make([]*FilterRule, 0, len(c.FilterRules))
	for _, r := range c.FilterRules {
		srcNet, err := parseOptionalNet(r.SrcNet)
		if err != nil {
			return nil, fmt.Errorf("filter_rule %q: %w", r.Name, err)
		}
		dstNet, err := parseOptionalNet(r.DstNet)
		if err != nil {
			return nil, fmt.Errorf("filter_rule %q: %w", r.Name, err)
		}
		srcPorts, err := parseOptionalPorts(r.SrcPorts)
		if err != nil {
			return nil, fmt.Errorf("filter_rule %q: %w", r.Name, err)
		}
		dstPorts, err := parseOptionalPorts(r.DstPorts)
		if err != nil {
			return nil, fmt.Errorf("filter_rule %q: %w", r.Name, err)
		}
		proto, err := parseProtocol(r.Protocol)
		if err != nil {
			return nil, fmt.Errorf("filter_rule %q: %w", r.Name, err)
		}
		action, err := parseAction(r.Action)
		if err != nil {
			return nil, fmt.Errorf("filter_rule %q: %w", r.Name, err)
		}
		if err := validateName(r.Name); err != nil {
			return nil, fmt.Errorf("filter_rule %q: %w", r.Name, err)
		}
		out = append(out, &FilterRule{
			Name: r.Name, SrcNet: srcNet, DstNet: dstNet,
			SrcPortRange: srcPorts, DstPortRange: dstPorts,
			Protocol: proto, Action: action, Log: r.Log,
		})
	}
	return out, nil
}

// NatRuleSet converts the decoded ConfigNatRules into engine rules.
func (c Config) NatRuleSet() ([]*NatRule, error) {
	out := make([]*NatRule, 0, len(c.NatRules))
	for i, r := range c.NatRules {
		srcNet, err := ParseNet(r.SrcNet)
		if err != nil {
			return nil, fmt.Errorf("nat_rule[%d]: %w", i, err)
		}
		natIP, err := ParseIPv4(r.NatIP)
		if err != nil {
			return nil, fmt.Errorf("nat_rule[%d]: %w", i, err)
		}
		pool, err := ParsePortRange(r.PortPool)
		if err != nil {
			return nil, fmt.Errorf("nat_rule[%d]: %w", i, err)
		}
		out = append(out, &NatRule{SrcNet: srcNet, NatIP: natIP, PortPool: pool})
	}
	return out, nil
}
