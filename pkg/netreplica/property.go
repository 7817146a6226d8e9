package netreplica

import "math"

// ConvergenceConfig smooths a remotely-applied property toward its new
// value instead of snapping (SPEC_FULL "Convergence (smoothing)",
// grounded on NetProperty.cpp's mConvergence* fields in original_source).
type ConvergenceConfig struct {
	Enabled  bool
	Interval float64 // seconds between convergence steps
	Duration float64 // seconds to fully converge
}

// QuantizationConfig carries the optional [min,max,step] bounds from §3.
type QuantizationConfig struct {
	Enabled bool
	Min     float64
	Max     float64
	Step    float64
}

// Property is a leaf value tied to a component's named field (§3
// NetProperty). The replicator samples ReflectionService.Get into
// LastSampled each detection pass and compares it against LastReplicated
// using DeltaThreshold/Quantization to decide whether to emit a change.
type Property struct {
	Name        string
	Type        BasicNetType
	IsNetPeerID bool // never serialized; filled from sender's peer id (§4.1)

	LastSampled    PropertyValue
	LastReplicated PropertyValue
	TimestampMs    int64

	Quantization QuantizationConfig
	Convergence  ConvergenceConfig

	DeltaThreshold float64

	// convergeFrom/convergeTo/convergeElapsed track an in-flight
	// smoothing pass started by BeginConverge when Convergence is enabled.
	convergeFrom    PropertyValue
	convergeTo      PropertyValue
	convergeElapsed float64
}

// NewProperty builds a Property with the defaults from §4.1: step
// defaults to 1 for integers, 1e-4 for reals, when Quantization is
// enabled but Step is left zero.
func NewProperty(name string, t BasicNetType) *Property {
	return &Property{Name: name, Type: t}
}

func (p *Property) defaultStep() float64 {
	switch p.Type {
	case BasicNetTypeInteger8, BasicNetTypeInteger16, BasicNetTypeInteger32, BasicNetTypeInteger64:
		return DefaultQuantizedStepInteger
	default:
		return DefaultQuantizedStepReal
	}
}

func realComponents(v PropertyValue) []float64 {
	switch v.Type {
	case BasicNetTypeReal:
		return []float64{v.Real}
	case BasicNetTypeReal2:
		return v.Real2[:]
	case BasicNetTypeReal3:
		return v.Real3[:]
	case BasicNetTypeReal4:
		return v.Real4[:]
	case BasicNetTypeQuaternion:
		return v.Quat[:]
	default:
		return nil
	}
}

// quantizeValue snaps v to the configured quantization grid, matching
// §4.4 "honors... when quantization is on, snaps to quantized values
// before comparing".
func (p *Property) quantizeValue(v PropertyValue) PropertyValue {
	if !p.Quantization.Enabled {
		return v
	}
	step := p.Quantization.Step
	if step <= 0 {
		step = p.defaultStep()
	}
	snap := func(x float64) float64 {
		return p.Quantization.Min + math.Round((x-p.Quantization.Min)/step)*step
	}
	out := v
	switch v.Type {
	case BasicNetTypeReal:
		out.Real = snap(v.Real)
	case BasicNetTypeReal2:
		for i := range out.Real2 {
			out.Real2[i] = snap(v.Real2[i])
		}
	case BasicNetTypeReal3:
		for i := range out.Real3 {
			out.Real3[i] = snap(v.Real3[i])
		}
	case BasicNetTypeReal4:
		for i := range out.Real4 {
			out.Real4[i] = snap(v.Real4[i])
		}
	case BasicNetTypeQuaternion:
		for i := range out.Quat {
			out.Quat[i] = snap(v.Quat[i])
		}
	case BasicNetTypeInteger8, BasicNetTypeInteger16, BasicNetTypeInteger32, BasicNetTypeInteger64:
		out.Int = int64(p.Quantization.Min + math.Round((float64(v.Int)-p.Quantization.Min)/step)*step)
	}
	return out
}

// ValuesEqual compares a and b honoring DeltaThreshold and, when
// quantization is configured, snapping both sides first (§4.4, and
// NetProperty::ValuesAreEqual in original_source for the component-wise
// delta rule).
func (p *Property) ValuesEqual(a, b PropertyValue) bool {
	if p.Quantization.Enabled {
		a = p.quantizeValue(a)
		b = p.quantizeValue(b)
	}
	if a.Type != b.Type {
		return false
	}
	comps := realComponents(a)
	if comps != nil {
		bComps := realComponents(b)
		for i := range comps {
			if math.Abs(comps[i]-bComps[i]) > p.DeltaThreshold {
				return false
			}
		}
		return true
	}
	switch a.Type {
	case BasicNetTypeBoolean:
		return a.Bool == b.Bool
	case BasicNetTypeInteger8, BasicNetTypeInteger16, BasicNetTypeInteger32, BasicNetTypeInteger64:
		diff := a.Int - b.Int
		if diff < 0 {
			diff = -diff
		}
		return float64(diff) <= p.DeltaThreshold
	case BasicNetTypeString:
		return a.Str == b.Str
	case BasicNetTypeCogReference:
		return a.CogRef == b.CogRef
	case BasicNetTypeCogPath:
		return a.CogPath == b.CogPath
	default:
		return a == b
	}
}

// HasChanged reports whether LastSampled differs from LastReplicated
// under ValuesEqual. Channels call this during detection (§4.4).
func (p *Property) HasChanged() bool {
	return !p.ValuesEqual(p.LastSampled, p.LastReplicated)
}

// MarkReplicated records that LastSampled has now been sent, copying it to
// LastReplicated and stamping the time. It starts no convergence.
func (p *Property) MarkReplicated(nowMs int64) {
	p.LastReplicated = p.LastSampled
	p.TimestampMs = nowMs
}

// BeginConverge starts smoothing this (remote-side) property from its
// current applied value toward newValue, rather than snapping.
func (p *Property) BeginConverge(newValue PropertyValue) {
	if !p.Convergence.Enabled || realComponents(newValue) == nil {
		p.LastSampled = newValue
		p.LastReplicated = newValue
		return
	}
	p.convergeFrom = p.LastSampled
	p.convergeTo = newValue
	p.convergeElapsed = 0
}

// StepConverge advances an in-flight convergence by dt seconds; nothing
// in this package calls it per tick. Returns the interpolated value;
// once Duration has elapsed it returns the target exactly and clears the
// in-flight state.
func (p *Property) StepConverge(dt float64) PropertyValue {
	if !p.Convergence.Enabled || realComponents(p.convergeTo) == nil {
		return p.LastSampled
	}
	p.convergeElapsed += dt
	duration := p.Convergence.Duration
	if duration <= 0 {
		p.LastSampled = p.convergeTo
		p.LastReplicated = p.convergeTo
		return p.LastSampled
	}
	t := p.convergeElapsed / duration
	if t >= 1 {
		p.LastSampled = p.convergeTo
		p.LastReplicated = p.convergeTo
		return p.LastSampled
	}
	from := realComponents(p.convergeFrom)
	to := realComponents(p.convergeTo)
	out := p.convergeTo
	blended := make([]float64, len(to))
	for i := range to {
		blended[i] = from[i] + (to[i]-from[i])*t
	}
	switch out.Type {
	case BasicNetTypeReal:
		out.Real = blended[0]
	case BasicNetTypeReal2:
		copy(out.Real2[:], blended)
	case BasicNetTypeReal3:
		copy(out.Real3[:], blended)
	case BasicNetTypeReal4:
		copy(out.Real4[:], blended)
	case BasicNetTypeQuaternion:
		copy(out.Quat[:], blended)
	}
	p.LastSampled = out
	return out
}
