// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package congestion

import (
	"math"
	"time"

	"github.com/bureau-foundation/sessionsync/lib/clock"
)

// Phase is the controller's operating mode.
type Phase uint8

const (
	// PhaseStartup probes aggressively to find the path's capacity.
	PhaseStartup Phase = iota
	// PhaseDrain empties the queue built up during startup.
	PhaseDrain
	// PhaseProbeBandwidth is steady state: the pacing gain cycles
	// through an 8-phase sequence, one phase per estimated RTT.
	PhaseProbeBandwidth
	// PhaseProbeRTT periodically shrinks the window to re-measure the
	// path's minimum round-trip time.
	PhaseProbeRTT
)

func (p Phase) String() string {
	switch p {
	case PhaseStartup:
		return "startup"
	case PhaseDrain:
		return "drain"
	case PhaseProbeBandwidth:
		return "probe-bandwidth"
	case PhaseProbeRTT:
		return "probe-rtt"
	default:
		return "invalid"
	}
}

const (
	// mss is the assumed segment size for window accounting.
	mss = 1460

	// startupPacingGain is 2/ln(2): fast enough to double the sending
	// rate every round trip while capacity keeps growing.
	startupPacingGain = 2.89

	// drainPacingGain empties the startup queue.
	drainPacingGain = 0.35

	// defaultCwndGain scales the bandwidth-delay product into a
	// window while model-probing.
	defaultCwndGain = 2.0

	// Terminal profile gains. Interactive channels trade probing
	// speed for latency stability.
	terminalCwndGain   = 1.5
	terminalPacingGain = 1.25

	// lossBeta is the multiplicative decrease applied on loss.
	lossBeta = 0.7

	// cubicScale is the cubic growth coefficient, in segments per
	// second cubed.
	cubicScale = 0.4

	// startupGrowthThreshold: startup ends when the delivery rate
	// stops growing by at least this factor round over round.
	startupGrowthThreshold = 1.25

	// sampleWindowSize bounds the delivery-rate sample window.
	sampleWindowSize = 10

	// initialRTT seeds phase timing before any sample arrives.
	initialRTT = 100 * time.Millisecond
)

// probeGainCycle is the steady-state pacing gain sequence: one probe
// above the estimated rate, one drain below it, six cruise phases.
var probeGainCycle = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

// Sample is one acknowledgment's delivery record.
type Sample struct {
	Bytes int
	RTT   time.Duration
	At    time.Time
}

// Config tunes a Controller. The zero value gets sensible defaults
// from withDefaults.
type Config struct {
	// MinWindow is the hard window floor in bytes. The window never
	// drops below it, whatever the loss pattern. Default 4 segments.
	MinWindow int

	// InitialWindow is the window before any acknowledgment arrives.
	// Default 10 segments.
	InitialWindow int

	// MaxWindow caps the window in bytes. Default 4 MB.
	MaxWindow int

	// Terminal selects the terminal-optimized profile: cwnd gain 1.5
	// and pacing gain 1.25 instead of the aggressive startup gains.
	Terminal bool

	// ProbeRTTInterval is the number of rounds between min-RTT
	// re-probes. Default 10000.
	ProbeRTTInterval uint64

	// ProbeRTTDuration is how long the window stays shrunk during a
	// probe. Default 200ms.
	ProbeRTTDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinWindow <= 0 {
		c.MinWindow = 4 * mss
	}
	if c.InitialWindow <= 0 {
		c.InitialWindow = 10 * mss
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = 4 * 1024 * 1024
	}
	if c.ProbeRTTInterval == 0 {
		c.ProbeRTTInterval = 10000
	}
	if c.ProbeRTTDuration <= 0 {
		c.ProbeRTTDuration = 200 * time.Millisecond
	}
	return c
}

// Controller estimates throughput from acknowledgment samples and
// sizes the congestion window. It is not safe for concurrent use; the
// synchronizer serializes access.
type Controller struct {
	clock  clock.Clock
	config Config

	phase    Phase
	window   int
	inflight int

	pacingGain float64
	cwndGain   float64

	samples   []Sample
	bandwidth float64 // bytes per second, max filter over samples
	minRTT    time.Duration
	minRTTAt  time.Time

	round    uint64
	lastRate float64 // delivery rate at the previous round, for the startup growth check

	probeIndex      int
	probePhaseStart time.Time
	probeRTTStart   time.Time

	// Loss recovery state. windowMax is the window at the last loss;
	// the cubic curve grows back toward and then past it.
	inRecovery     bool
	windowMax      float64
	epochStart     time.Time
	fairnessWindow float64
	lossCount      uint64
}

// NewController creates a controller in Startup with the initial
// window.
func NewController(config Config, clk clock.Clock) *Controller {
	config = config.withDefaults()
	controller := &Controller{
		clock:  clk,
		config: config,
		phase:  PhaseStartup,
		window: config.InitialWindow,
	}
	if config.Terminal {
		controller.pacingGain = terminalPacingGain
		controller.cwndGain = terminalCwndGain
	} else {
		controller.pacingGain = startupPacingGain
		controller.cwndGain = defaultCwndGain
	}
	return controller
}

// CanSend reports whether the caller may transmit on the normal path:
// true iff in-flight bytes are below the current window. Callers must
// hold or queue data otherwise; this is flow control, not an error.
func (c *Controller) CanSend() bool { return c.inflight < c.window }

// OnSent records bytes handed to the transport.
func (c *Controller) OnSent(bytes int) { c.inflight += bytes }

// Release credits bytes back to the in-flight estimate without
// recording a delivery sample, for sends that will never be
// acknowledged.
func (c *Controller) Release(bytes int) {
	c.inflight -= bytes
	if c.inflight < 0 {
		c.inflight = 0
	}
}

// OnAck records a delivery: the size of the acknowledged send and the
// observed round trip. Feeds the sample window, drives phase
// transitions, and recomputes the window.
func (c *Controller) OnAck(bytes int, rtt time.Duration) {
	now := c.clock.Now()

	c.inflight -= bytes
	if c.inflight < 0 {
		c.inflight = 0
	}

	if rtt > 0 {
		c.samples = append(c.samples, Sample{Bytes: bytes, RTT: rtt, At: now})
		if len(c.samples) > sampleWindowSize {
			c.samples = c.samples[len(c.samples)-sampleWindowSize:]
		}
		if c.minRTT == 0 || rtt < c.minRTT {
			c.minRTT = rtt
			c.minRTTAt = now
		}
	}
	c.bandwidth = c.deliveryRate()
	c.round++

	c.advancePhase(now)

	if c.inRecovery {
		// TCP-fairness window: additive increase of one segment per
		// window's worth of acknowledgments.
		if c.fairnessWindow > 0 {
			c.fairnessWindow += mss * float64(bytes) / c.fairnessWindow
		}
		if c.cubicWindow(now) >= c.windowMax {
			c.inRecovery = false
		}
	}

	c.updateWindow(now)
}

// OnLoss records a lost packet: multiplicative decrease, cubic epoch
// reset. Isolated losses never force a phase change; the model keeps
// probing while the loss-reactive target governs the window.
func (c *Controller) OnLoss() {
	now := c.clock.Now()
	c.lossCount++
	c.windowMax = float64(c.window)
	c.epochStart = now
	c.inRecovery = true
	c.fairnessWindow = float64(c.window) * lossBeta

	reduced := int(float64(c.window) * lossBeta)
	c.window = clampWindow(reduced, c.config)
}

// advancePhase runs the Startup → Drain → ProbeBandwidth machine and
// the periodic ProbeRTT detour.
func (c *Controller) advancePhase(now time.Time) {
	switch c.phase {
	case PhaseStartup:
		if c.lastRate > 0 && c.bandwidth < c.lastRate*startupGrowthThreshold {
			c.phase = PhaseDrain
			c.pacingGain = drainPacingGain
			return
		}
		c.lastRate = c.bandwidth

	case PhaseDrain:
		if float64(c.inflight) <= c.bdp() {
			c.enterProbeBandwidth(now)
		}

	case PhaseProbeBandwidth:
		if c.round%c.config.ProbeRTTInterval == 0 {
			c.phase = PhaseProbeRTT
			c.probeRTTStart = now
			c.window = c.config.MinWindow
			return
		}
		if now.Sub(c.probePhaseStart) >= c.estimatedRTT() {
			c.probeIndex = (c.probeIndex + 1) % len(probeGainCycle)
			c.probePhaseStart = now
			c.setProbeGain()
		}

	case PhaseProbeRTT:
		if now.Sub(c.probeRTTStart) >= c.config.ProbeRTTDuration {
			// Discard the stale minimum: the freshest sample becomes
			// the new estimate.
			if n := len(c.samples); n > 0 {
				c.minRTT = c.samples[n-1].RTT
				c.minRTTAt = now
			}
			c.enterProbeBandwidth(now)
		}
	}
}

func (c *Controller) enterProbeBandwidth(now time.Time) {
	c.phase = PhaseProbeBandwidth
	c.probeIndex = 0
	c.probePhaseStart = now
	c.setProbeGain()
}

func (c *Controller) setProbeGain() {
	gain := probeGainCycle[c.probeIndex]
	if c.config.Terminal && gain > terminalPacingGain {
		gain = terminalPacingGain
	}
	c.pacingGain = gain
}

// updateWindow blends the two window estimates: the bandwidth-delay
// target while model-probing, the max of the cubic and fairness
// targets while recovering from loss.
func (c *Controller) updateWindow(now time.Time) {
	if c.phase == PhaseProbeRTT {
		c.window = c.config.MinWindow
		return
	}

	if c.inRecovery {
		target := math.Max(c.cubicWindow(now), c.fairnessWindow)
		c.window = clampWindow(int(target), c.config)
		return
	}

	if c.bandwidth <= 0 || c.minRTT <= 0 {
		// No samples yet: keep the current window.
		return
	}
	target := c.bdp() * c.cwndGain
	c.window = clampWindow(int(target), c.config)
}

// bdp is the bandwidth-delay product in bytes.
func (c *Controller) bdp() float64 {
	if c.bandwidth <= 0 || c.minRTT <= 0 {
		return float64(c.config.InitialWindow)
	}
	return c.bandwidth * c.minRTT.Seconds()
}

// cubicWindow evaluates the cubic growth curve at time now, in bytes.
func (c *Controller) cubicWindow(now time.Time) float64 {
	if c.windowMax <= 0 {
		return 0
	}
	maxSegments := c.windowMax / mss
	k := math.Cbrt(maxSegments * (1 - lossBeta) / cubicScale)
	t := now.Sub(c.epochStart).Seconds()
	segments := cubicScale*math.Pow(t-k, 3) + maxSegments
	return segments * mss
}

// deliveryRate is the max bytes-per-second estimate over the sample
// window.
func (c *Controller) deliveryRate() float64 {
	best := 0.0
	for _, sample := range c.samples {
		if sample.RTT <= 0 {
			continue
		}
		rate := float64(sample.Bytes) / sample.RTT.Seconds()
		if rate > best {
			best = rate
		}
	}
	return best
}

// estimatedRTT is the probe phase duration: the measured minimum, or
// a seed value before any sample exists.
func (c *Controller) estimatedRTT() time.Duration {
	if c.minRTT > 0 {
		return c.minRTT
	}
	return initialRTT
}

// PacingInterval returns how long the caller should wait before
// sending the next packet of the given size, at the current paced
// rate. Zero means no pacing constraint yet.
func (c *Controller) PacingInterval(bytes int) time.Duration {
	rate := c.bandwidth * c.pacingGain
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(bytes) / rate * float64(time.Second))
}

func clampWindow(window int, config Config) int {
	if window < config.MinWindow {
		return config.MinWindow
	}
	if window > config.MaxWindow {
		return config.MaxWindow
	}
	return window
}

// Phase returns the current operating phase.
func (c *Controller) Phase() Phase { return c.phase }

// Window returns the current congestion window in bytes.
func (c *Controller) Window() int { return c.window }

// InFlight returns the current in-flight byte estimate.
func (c *Controller) InFlight() int { return c.inflight }

// Bandwidth returns the current delivery-rate estimate in bytes per
// second.
func (c *Controller) Bandwidth() float64 { return c.bandwidth }

// MinRTT returns the current minimum round-trip estimate.
func (c *Controller) MinRTT() time.Duration { return c.minRTT }

// PacingGain returns the current pacing gain.
func (c *Controller) PacingGain() float64 { return c.pacingGain }

// Losses returns the number of loss events reported.
func (c *Controller) Losses() uint64 { return c.lossCount }
