package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"strapt/native/fees"
)

var (
	ErrNotOwner          = errors.New("registry: caller is not the owner")
	ErrTokenNotSupported = errors.New("registry: token not supported")
	ErrInvalidAddress    = errors.New("registry: invalid address")
	ErrNilState          = errors.New("registry: state not configured")
)

// Params holds the owner-mutable engine configuration: owner key, fee policy
// and the fungible-token allow-list. Stored as a single record so every
// mutation is atomic.
type Params struct {
	Owner        [20]byte
	FeeBps       uint32
	FeeCollector [20]byte
	Tokens       []string
}

// Clone returns a deep copy of the params.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	if len(p.Tokens) > 0 {
		clone.Tokens = append([]string(nil), p.Tokens...)
	}
	return &clone
}

type paramState interface {
	ParamsGet() (*Params, bool, error)
	ParamsPut(*Params) error
}

// Registry gates access to the engine configuration. All reads go through the
// state backend so callers observe the latest committed params.
type Registry struct {
	state paramState
}

// NewRegistry creates a registry over the supplied state backend.
func NewRegistry(state paramState) *Registry {
	return &Registry{state: state}
}

// Bootstrap persists the initial params if none are stored yet. Used by the
// daemon on first start; subsequent starts keep the committed configuration.
func (r *Registry) Bootstrap(initial *Params) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if initial == nil {
		return errors.New("registry: nil params")
	}
	if initial.FeeBps > fees.MaxFeeBps {
		return fees.ErrInvalidFee
	}
	if _, ok, err := r.state.ParamsGet(); err != nil {
		return err
	} else if ok {
		return nil
	}
	sanitized := initial.Clone()
	tokens := make([]string, 0, len(sanitized.Tokens))
	for _, token := range sanitized.Tokens {
		normalized := canonicalToken(token)
		if normalized == "" {
			continue
		}
		tokens = append(tokens, normalized)
	}
	sort.Strings(tokens)
	sanitized.Tokens = tokens
	return r.state.ParamsPut(sanitized)
}

// Params returns a copy of the committed configuration.
func (r *Registry) Params() (*Params, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	params, ok, err := r.state.ParamsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("registry: params not bootstrapped")
	}
	return params.Clone(), nil
}

// FeePolicy resolves the current fee policy applied to new escrows.
func (r *Registry) FeePolicy() (fees.Policy, error) {
	params, err := r.Params()
	if err != nil {
		return fees.Policy{}, err
	}
	return fees.NewPolicy(params.FeeBps, params.FeeCollector)
}

// NormalizeToken canonicalises the symbol and confirms it is allow-listed.
func (r *Registry) NormalizeToken(symbol string) (string, error) {
	params, err := r.Params()
	if err != nil {
		return "", err
	}
	normalized := canonicalToken(symbol)
	if normalized == "" {
		return "", ErrTokenNotSupported
	}
	for _, token := range params.Tokens {
		if token == normalized {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTokenNotSupported, symbol)
}

// IsTokenSupported reports whether the symbol is on the allow-list.
func (r *Registry) IsTokenSupported(symbol string) bool {
	_, err := r.NormalizeToken(symbol)
	return err == nil
}

// SetFee updates the fee rate for future creations. Owner only.
func (r *Registry) SetFee(caller [20]byte, bps uint32) error {
	if bps > fees.MaxFeeBps {
		return fees.ErrInvalidFee
	}
	return r.mutate(caller, func(p *Params) error {
		p.FeeBps = bps
		return nil
	})
}

// SetFeeCollector updates the fee destination. Owner only.
func (r *Registry) SetFeeCollector(caller [20]byte, collector [20]byte) error {
	if collector == ([20]byte{}) {
		return ErrInvalidAddress
	}
	return r.mutate(caller, func(p *Params) error {
		p.FeeCollector = collector
		return nil
	})
}

// SetTokenSupport adds or removes a token from the allow-list. Owner only.
// Removing a token only blocks future creations; records already in custody
// keep their release paths.
func (r *Registry) SetTokenSupport(caller [20]byte, symbol string, supported bool) error {
	normalized := canonicalToken(symbol)
	if normalized == "" {
		return ErrTokenNotSupported
	}
	return r.mutate(caller, func(p *Params) error {
		idx := -1
		for i, token := range p.Tokens {
			if token == normalized {
				idx = i
				break
			}
		}
		switch {
		case supported && idx < 0:
			p.Tokens = append(p.Tokens, normalized)
			sort.Strings(p.Tokens)
		case !supported && idx >= 0:
			p.Tokens = append(p.Tokens[:idx], p.Tokens[idx+1:]...)
		}
		return nil
	})
}

func (r *Registry) mutate(caller [20]byte, fn func(*Params) error) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	params, ok, err := r.state.ParamsGet()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("registry: params not bootstrapped")
	}
	if caller != params.Owner {
		return ErrNotOwner
	}
	updated := params.Clone()
	if err := fn(updated); err != nil {
		return err
	}
	return r.state.ParamsPut(updated)
}

func canonicalToken(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
