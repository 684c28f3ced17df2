// Package profile holds the immutable descriptors of emulated services:
// name, port, greeting bytes and the reaction policy applied to received
// chunks.
package profile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/0tSystemsPublicRepos/logweaver/internal/config"
)

var ErrInvalidProfile = errors.New("invalid service profile")

// Reaction is one trigger -> response rule.
type Reaction struct {
	Trigger  Trigger
	Response []byte
	// Close ends the session right after Response is written.
	Close bool
}

// Profile is safe for concurrent read-only use by any number of sessions.
// It is never modified after New returns.
type Profile struct {
	name               string
	port               uint16
	greeting           []byte
	closeAfterGreeting bool
	reactions          []Reaction
}

type Option func(*Profile)

// WithReactions appends reactions in priority order.
func WithReactions(rs ...Reaction) Option {
	return func(p *Profile) {
		for _, r := range rs {
			r.Response = append([]byte(nil), r.Response...)
			p.reactions = append(p.reactions, r)
		}
	}
}

// CloseAfterGreeting makes sessions hang up right after the greeting,
// without reading client input.
func CloseAfterGreeting() Option {
	return func(p *Profile) { p.closeAfterGreeting = true }
}

// New builds and validates a profile. An empty greeting means nothing is
// sent on connect.
func New(name string, port int, greeting []byte, opts ...Option) (*Profile, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidProfile)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %s: port %d out of range [1,65535]", ErrInvalidProfile, name, port)
	}

	p := &Profile{
		name:     name,
		port:     uint16(port),
		greeting: append([]byte(nil), greeting...),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i, r := range p.reactions {
		if r.Trigger == nil {
			return nil, fmt.Errorf("%w: %s: reaction %d has no trigger", ErrInvalidProfile, name, i)
		}
	}
	return p, nil
}

func (p *Profile) Name() string { return p.name }
func (p *Profile) Port() int    { return int(p.port) }

// Greeting returns a copy of the greeting bytes.
func (p *Profile) Greeting() []byte { return append([]byte(nil), p.greeting...) }

func (p *Profile) ClosesAfterGreeting() bool { return p.closeAfterGreeting }

// Reactions returns a copy of the reaction list.
func (p *Profile) Reactions() []Reaction { return append([]Reaction(nil), p.reactions...) }

// React returns the first reaction whose trigger matches. At most one
// reaction applies per chunk.
func (p *Profile) React(in Input) (Reaction, bool) {
	for _, r := range p.reactions {
		if r.Trigger.Match(in) {
			return r, true
		}
	}
	return Reaction{}, false
}

func (p *Profile) String() string {
	return fmt.Sprintf("%s/%d", p.name, p.port)
}

// FromConfig builds one profile from its config entry.
func FromConfig(sc config.ServiceConfig) (*Profile, error) {
	greeting, err := pickBytes(sc.Greeting, sc.GreetingHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %s greeting: %v", ErrInvalidProfile, sc.Name, err)
	}

	var opts []Option
	if sc.CloseAfterGreeting {
		opts = append(opts, CloseAfterGreeting())
	}
	for i, rc := range sc.Reactions {
		r, err := reactionFromConfig(rc)
		if err != nil {
			return nil, fmt.Errorf("%s reaction %d: %w", sc.Name, i, err)
		}
		opts = append(opts, WithReactions(r))
	}
	return New(sc.Name, sc.Port, greeting, opts...)
}

func reactionFromConfig(rc config.ReactionConfig) (Reaction, error) {
	var triggers []Trigger
	if rc.Contains != "" {
		triggers = append(triggers, Contains(rc.Contains))
	}
	if rc.ContainsFold != "" {
		triggers = append(triggers, ContainsFold(rc.ContainsFold))
	}
	if rc.Token != "" {
		triggers = append(triggers, Token(rc.Token))
	}
	if rc.Expr != "" {
		t, err := Expr(rc.Expr)
		if err != nil {
			return Reaction{}, err
		}
		triggers = append(triggers, t)
	}
	if rc.Any {
		triggers = append(triggers, Any())
	}
	if len(triggers) != 1 {
		return Reaction{}, fmt.Errorf("%w: want exactly one trigger, got %d", ErrInvalidProfile, len(triggers))
	}

	response, err := pickBytes(rc.Response, rc.ResponseHex)
	if err != nil {
		return Reaction{}, fmt.Errorf("%w: response: %v", ErrInvalidProfile, err)
	}
	return Reaction{Trigger: triggers[0], Response: response, Close: rc.Close}, nil
}

// pickBytes prefers the hex form so binary banners survive YAML.
func pickBytes(text, hexText string) ([]byte, error) {
	if hexText == "" {
		return []byte(text), nil
	}
	return hex.DecodeString(strings.Join(strings.Fields(hexText), ""))
}

// Load builds the service table. An empty list yields Defaults. Ports must
// be unique across the table.
func Load(services []config.ServiceConfig) ([]*Profile, error) {
	if len(services) == 0 {
		return Defaults(), nil
	}

	profiles := make([]*Profile, 0, len(services))
	seen := make(map[int]string)
	for _, sc := range services {
		p, err := FromConfig(sc)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[p.Port()]; dup {
			return nil, fmt.Errorf("%w: %s and %s both use port %d", ErrInvalidProfile, other, p.Name(), p.Port())
		}
		seen[p.Port()] = p.Name()
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Ports lists the ports of the given profiles in table order.
func Ports(profiles []*Profile) []int {
	ports := make([]int, len(profiles))
	for i, p := range profiles {
		ports[i] = p.Port()
	}
	return ports
}
