package scatter

import "github.com/panjf2000/ants/v2"

// Pools returns the underlying pools
func (p *Pools) Pools() []*ants.Pool {
	if p == nil {
		return nil
	}
	return p.pools
}

// Submit exposes submit for tests.
func (p *Pools) Submit(f func(*Pools)) error {
	return p.submit(f)
}

// Merge exposes merge for tests.
var Merge = merge
