package gaussian

import (
	"fmt"

	track "github.com/milosgajdos/go-track"
)

// Rename recasts the factor onto a new scope of the same dimension.
// Parameters are carried over positionally, so the caller must supply the
// new variables in the order matching the current sorted scope.
func (c *Canonical) Rename(vars track.Vars) (*Canonical, error) {
	if len(vars) != len(c.vars) {
		return nil, fmt.Errorf("invalid scope dimension: %d != %d", len(vars), len(c.vars))
	}

	out := c.clone()
	out.vars = vars.Clone()

	return out, nil
}

// Rename recasts the mixture onto a new scope of the same dimension,
// carrying every component over positionally.
func (m *Mixture) Rename(vars track.Vars) (*Mixture, error) {
	comps := make([]*Canonical, len(m.comps))
	for i, c := range m.comps {
		rc, err := c.Rename(vars)
		if err != nil {
			return nil, err
		}
		comps[i] = rc
	}

	return &Mixture{vars: vars.Clone(), comps: comps, par: m.par}, nil
}
