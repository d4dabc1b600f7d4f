package cluster

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// featureDimensions is the length of the feature vector spec §4.8 step 2
// names: timing regularity, request rate, path diversity, path entropy,
// avg bot probability, country one-hot (collapsed to a single reputation
// scalar here rather than a full one-hot, see DESIGN.md), datacenter flag,
// ASN reputation scalar, spectral entropy, harmonic ratio,
// peak-to-average magnitude, dominant frequency.
const featureDimensions = 12

// SignatureObservation is the per-signature input the feature extractor
// consumes: the coordinator's cached behavior metrics plus the raw
// inter-arrival series needed for spectral analysis.
type SignatureObservation struct {
	Signature         string
	TimingCV          float64
	RequestRate       float64 // requests per minute over the window
	PathDiversity     float64 // distinct paths / total requests
	PathEntropy       float64
	AvgBotProbability float64
	CountryReputation float64 // 0..1, from CountryReputationTracker
	IsDatacenter      bool
	ASNReputation     float64 // 0..1
	IntervalsSeconds  []float64
}

// Vector is the 12-dimensional feature vector for one signature.
type Vector [featureDimensions]float64

// Extract computes a signature's feature vector, substituting the neutral
// value 0.5 for spectral features when fewer than 9 interval samples exist
// (spec §4.8 step 2).
func Extract(obs SignatureObservation) Vector {
	spectral := neutralSpectral()
	if len(obs.IntervalsSeconds) >= 9 {
		spectral = spectralFeatures(obs.IntervalsSeconds)
	}

	datacenter := 0.0
	if obs.IsDatacenter {
		datacenter = 1.0
	}

	return Vector{
		clamp01(1 - obs.TimingCV),
		normalizeRate(obs.RequestRate),
		clamp01(obs.PathDiversity),
		clamp01(obs.PathEntropy / 8), // entropy of a few hundred paths tops out well under 8 bits
		clamp01(obs.AvgBotProbability),
		clamp01(obs.CountryReputation),
		datacenter,
		clamp01(obs.ASNReputation),
		spectral.entropy,
		spectral.harmonicRatio,
		spectral.peakToAverage,
		spectral.dominantFrequency,
	}
}

type spectralSummary struct {
	entropy           float64
	harmonicRatio     float64
	peakToAverage     float64
	dominantFrequency float64
}

func neutralSpectral() spectralSummary {
	return spectralSummary{entropy: 0.5, harmonicRatio: 0.5, peakToAverage: 0.5, dominantFrequency: 0.5}
}

// spectralFeatures runs an FFT over the inter-arrival interval series and
// derives the four spectral feature dimensions (spec §4.8 step 2, §4.8
// "Temporal cross-correlation (FFT-based)").
func spectralFeatures(intervals []float64) spectralSummary {
	n := len(intervals)
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, intervals)

	mags := make([]float64, len(coeffs))
	var total float64
	for i, c := range coeffs {
		m := cmplx.Abs(c)
		mags[i] = m
		total += m
	}
	if total == 0 {
		return neutralSpectral()
	}

	var entropy float64
	var peak float64
	peakIdx := 0
	for i, m := range mags {
		p := m / total
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
		if m > peak {
			peak = m
			peakIdx = i
		}
	}
	maxEntropy := math.Log2(float64(len(mags)))
	normEntropy := 0.5
	if maxEntropy > 0 {
		normEntropy = clamp01(entropy / maxEntropy)
	}

	average := total / float64(len(mags))
	peakToAverage := 0.5
	if average > 0 {
		peakToAverage = clamp01(peak / average / float64(len(mags)))
	}

	// Harmonic ratio: fraction of spectral energy at low-order harmonics
	// of the dominant frequency, a crude periodicity measure.
	harmonicEnergy := 0.0
	for h := 1; h <= 3; h++ {
		idx := peakIdx * h
		if idx < len(mags) {
			harmonicEnergy += mags[idx]
		}
	}
	harmonicRatio := clamp01(harmonicEnergy / total)

	dominantFrequency := 0.5
	if n > 0 {
		dominantFrequency = clamp01(float64(peakIdx) / float64(n))
	}

	return spectralSummary{
		entropy:           normEntropy,
		harmonicRatio:     harmonicRatio,
		peakToAverage:     peakToAverage,
		dominantFrequency: dominantFrequency,
	}
}

func normalizeRate(requestsPerMinute float64) float64 {
	// Saturating normalization: 60 req/min and above reads as "maximally
	// bot-like rate" for feature purposes.
	return clamp01(requestsPerMinute / 60)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
