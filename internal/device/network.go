package device

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// IPConfig is the scanner's wired network configuration.
type IPConfig struct {
	IP      string `json:"ip"`
	Mask    string `json:"mask"`
	Gateway string `json:"gateway"`
	DNS     string `json:"dns"`
}

// Validate checks that every field is an IPv4 address.
func (c IPConfig) Validate() error {
	for _, f := range []struct{ name, v string }{
		{"ip", c.IP}, {"mask", c.Mask}, {"gateway", c.Gateway}, {"dns", c.DNS},
	} {
		addr, err := netip.ParseAddr(f.v)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalid, f.name, f.v, err)
		}
		if !addr.Is4() {
			return fmt.Errorf("%w: %s %q is not IPv4", ErrInvalid, f.name, f.v)
		}
	}
	return nil
}

func (c IPConfig) params() string {
	return strings.Join([]string{c.IP, c.Mask, c.Gateway, c.DNS}, "/")
}

// ParseIPConfig parses the "ip/mask/gateway/dns" form returned by
// /current_ip. Extra trailing parts are ignored.
func ParseIPConfig(s string) (IPConfig, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 4 {
		return IPConfig{}, fmt.Errorf("malformed ip config %q", s)
	}
	return IPConfig{IP: parts[0], Mask: parts[1], Gateway: parts[2], DNS: parts[3]}, nil
}

// SetIP applies a network configuration.
func (c *Client) SetIP(ctx context.Context, cfg IPConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	resp, err := c.base(ctx, SrvIPConfig, TypeBase, paramsArgs{Params: cfg.params()})
	return resp.Message, err
}

// CurrentIP reads the active network configuration.
func (c *Client) CurrentIP(ctx context.Context) (IPConfig, error) {
	resp, err := c.base(ctx, SrvCurrentIP, TypeBase, struct{}{})
	if err != nil {
		return IPConfig{}, err
	}
	return ParseIPConfig(resp.Message)
}
