// Package metrics samples host telemetry for the periodic broadcast.
// Fields a platform cannot read stay nil and are omitted from the wire;
// absent never means zero.
package metrics

import "tiledeck/internal/protocol"

// Sampler produces one snapshot per call.
type Sampler interface {
	Sample() (protocol.Metrics, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func() (protocol.Metrics, error)

func (f SamplerFunc) Sample() (protocol.Metrics, error) { return f() }

// NewSystemSampler returns the best sampler for the current platform.
func NewSystemSampler() Sampler {
	return newPlatformSampler()
}

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }
