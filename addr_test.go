package pfwall

import (
	"errors"
	"testing"
)

func TestParseIPv4(t *testing.T) {
	ip, err := ParseIPv4("192.168.1.100")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ip != (IPv4{192, 168, 1, 100}) {
		t.Errorf("got %v", ip)
	}
}

func TestParseIPv4Invalid(t *testing.T) {
	if _, err := ParseIPv4("not-an-ip"); err == nil {
		t.Error("expected error")
	}
	if _, err := ParseIPv4("::1"); err == nil {
		t.Error("expected error for IPv6 address")
	}
}

func TestParseNetDefaultsToSlash32(t *testing.T) {
	n, err := ParseNet("10.0.0.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.String() != "10.0.0.5/32" {
		t.Errorf("got %s", n.String())
	}
}

func TestParseNetSlashZero(t *testing.T) {
	n, err := ParseNet("10.0.0.5/0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.Mask != (IPv4{}) {
		t.Errorf("expected zero mask, got %v", n.Mask)
	}
	if !n.Contains(IPv4{1, 2, 3, 4}) {
		t.Error("/0 should contain every address")
	}
}

func TestNetContains(t *testing.T) {
	n, err := ParseNet("192.168.1.0/24")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !n.Contains(IPv4{192, 168, 1, 200}) {
		t.Error("expected containment")
	}
	if n.Contains(IPv4{192, 168, 2, 1}) {
		t.Error("unexpected containment")
	}
}

func TestParsePortRange(t *testing.T) {
	cases := []struct {
		in     string
		lo, hi uint16
	}{
		{"", 0, 65535},
		{"any", 0, 65535},
		{"80", 80, 80},
		{"1024-2048", 1024, 2048},
	}
	for _, c := range cases {
		r, err := ParsePortRange(c.in)
		if err != nil {
			t.Fatalf("parse %q: %v", c.in, err)
		}
		if r.Lo != c.lo || r.Hi != c.hi {
			t.Errorf("%q: got [%d,%d], want [%d,%d]", c.in, r.Lo, r.Hi, c.lo, c.hi)
		}
	}
}

func TestParsePortRangeInvalid(t *testing.T) {
	_, err := ParsePortRange("2048-1024")
	if err == nil {
		t.Fatal("expected error for min > max")
	}
	if !errors.Is(err, ErrInvalidPortRange) {
		t.Errorf("expected ErrInvalidPortRange, got %v", err)
	}
	if _, err := ParsePortRange("not-a-port"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestPortRangeWidth(t *testing.T) {
	r := PortRange{Lo: 40000, Hi: 40009}
	if r.Width() != 10 {
		t.Errorf("got %d", r.Width())
	}
}
