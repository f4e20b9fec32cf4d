package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // Minimum RMS energy for speech, regardless of noise floor
	NoiseMultiplier float64 // Speech must exceed the noise floor times this
	NoiseAdapt      float64 // EMA weight given to each silent frame when tracking the floor
	SilenceFrames   int     // Consecutive silence frames that end an utterance
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		NoiseMultiplier: 3.0,
		NoiseAdapt:      0.05,
		SilenceFrames:   12, // 720ms at 60ms frames
	}
}

// Thresholds is the adaptive state the detector keeps for one connection.
// The zero value starts with no noise floor estimate.
type Thresholds struct {
	NoiseFloor float64
	Frames     int // Silent frames folded into NoiseFloor
}

// EnergyDetector classifies frames as voice or silence from their RMS energy
// against a connection-scoped adaptive noise floor. It holds no per-connection
// state itself and is safe to share.
type EnergyDetector struct {
	config VADConfig
}

// NewEnergyDetector creates a detector
func NewEnergyDetector(config *VADConfig) *EnergyDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	c := *config
	if c.NoiseAdapt <= 0 || c.NoiseAdapt > 1 {
		c.NoiseAdapt = 0.05
	}
	if c.NoiseMultiplier < 1 {
		c.NoiseMultiplier = 1
	}
	return &EnergyDetector{config: c}
}

// SilenceFrames returns the configured hangover length
func (d *EnergyDetector) SilenceFrames() int {
	return d.config.SilenceFrames
}

// Threshold returns the RMS a frame must exceed to count as voice
func (d *EnergyDetector) Threshold(th *Thresholds) float64 {
	adaptive := th.NoiseFloor * d.config.NoiseMultiplier
	if adaptive > d.config.EnergyThreshold {
		return adaptive
	}
	return d.config.EnergyThreshold
}

// Classify reports whether samples contain voice. Silent frames update the
// caller's noise floor, so the same frame against the same thresholds always
// yields the same answer.
func (d *EnergyDetector) Classify(th *Thresholds, samples []int16) bool {
	if len(samples) == 0 {
		return false
	}
	rms := CalculateRMS(samples)
	if rms > d.Threshold(th) {
		return true
	}

	if th.Frames == 0 {
		th.NoiseFloor = rms
	} else {
		a := d.config.NoiseAdapt
		th.NoiseFloor = a*rms + (1-a)*th.NoiseFloor
	}
	th.Frames++
	return false
}
