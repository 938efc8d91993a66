package camera

import (
	"fmt"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/session"
)

// ModernLevel is the first platform level shipping the modern driver.
const ModernLevel = 21

// Platform describes the capabilities of the host.
type Platform struct {
	// Level is the platform API level; ModernLevel and above use the
	// modern driver generation.
	Level int
}

// Generation returns the driver generation the platform supports.
func (p Platform) Generation() session.Generation {
	if p.Level >= ModernLevel {
		return session.Modern
	}
	return session.Legacy
}

// Backends holds the driver entry points available on the host.
// Only the one matching the platform generation is required.
type Backends struct {
	Legacy LegacyAPI
	Modern Manager
}

// Select builds the adapter for the platform. The choice is made once;
// the returned adapter never switches generation.
func Select(p Platform, b Backends, q Poster, opts LegacyOptions) (session.Adapter, error) {
	gen := p.Generation()
	debug.Info("Platform level %d: using %s camera driver", p.Level, gen)

	switch gen {
	case session.Modern:
		if b.Modern == nil {
			return nil, fmt.Errorf("platform level %d requires a modern camera backend", p.Level)
		}
		return NewModern(b.Modern, q), nil
	default:
		if b.Legacy == nil {
			return nil, fmt.Errorf("platform level %d requires a legacy camera backend", p.Level)
		}
		return NewLegacy(b.Legacy, q, opts), nil
	}
}
