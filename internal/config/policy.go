package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the optional YAML overlay for guard limits. Durations are given
// in milliseconds; omitted fields keep their env/default values.
//
//	freshnessWindowMs: 300000
//	csrfTtlMs: 3600000
//	profiles:
//	  auth:
//	    windowMs: 900000
//	    maxRequests: 20
//	    maxAuthAttempts: 5
type Policy struct {
	FreshnessWindowMs *int64                   `yaml:"freshnessWindowMs"`
	CSRFTTLMs         *int64                   `yaml:"csrfTtlMs"`
	TrustedProxies    []string                 `yaml:"trustedProxies"`
	BlockedCIDRs      []string                 `yaml:"blockedCidrs"`
	Profiles          map[string]PolicyProfile `yaml:"profiles"`
}

// PolicyProfile overrides one route category.
type PolicyProfile struct {
	WindowMs        *int64 `yaml:"windowMs"`
	MaxRequests     *int   `yaml:"maxRequests"`
	MaxAuthAttempts *int   `yaml:"maxAuthAttempts"`
	LockoutWindowMs *int64 `yaml:"lockoutWindowMs"`
	Replay          *bool  `yaml:"replay"`
	Detector        *bool  `yaml:"detector"`
	CSRF            *bool  `yaml:"csrf"`
}

// LoadPolicy parses a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses policy YAML. Unknown top-level keys are rejected.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	var strict map[string]any
	if err := yaml.Unmarshal(data, &strict); err == nil {
		for k := range strict {
			switch k {
			case "freshnessWindowMs", "csrfTtlMs", "trustedProxies", "blockedCidrs", "profiles":
			default:
				return nil, fmt.Errorf("parse policy: unknown key %q", k)
			}
		}
	}
	return &p, nil
}

// Apply overlays the policy onto sec.
func (p *Policy) Apply(sec *SecurityConfig) {
	if p.FreshnessWindowMs != nil {
		sec.FreshnessWindow = ms(*p.FreshnessWindowMs)
	}
	if p.CSRFTTLMs != nil {
		sec.CSRFTTL = ms(*p.CSRFTTLMs)
	}
	if len(p.TrustedProxies) > 0 {
		sec.TrustedProxies = p.TrustedProxies
	}
	if len(p.BlockedCIDRs) > 0 {
		sec.BlockedCIDRs = p.BlockedCIDRs
	}
	if sec.Profiles == nil {
		sec.Profiles = DefaultProfiles()
	}
	for name, o := range p.Profiles {
		prof, ok := sec.Profiles[name]
		if !ok {
			prof = sec.Profiles[CategoryGeneral]
		}
		if o.WindowMs != nil {
			prof.Window = ms(*o.WindowMs)
		}
		if o.MaxRequests != nil {
			prof.MaxRequests = *o.MaxRequests
		}
		if o.MaxAuthAttempts != nil {
			prof.MaxAuthAttempts = *o.MaxAuthAttempts
			if prof.LockoutWindow <= 0 {
				prof.LockoutWindow = prof.Window
			}
		}
		if o.LockoutWindowMs != nil {
			prof.LockoutWindow = ms(*o.LockoutWindowMs)
		}
		if o.Replay != nil {
			prof.Replay = *o.Replay
		}
		if o.Detector != nil {
			prof.Detector = *o.Detector
		}
		if o.CSRF != nil {
			prof.CSRF = *o.CSRF
		}
		sec.Profiles[name] = prof
	}
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }
