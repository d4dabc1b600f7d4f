package coordinator

import (
	"github.com/northboundlabs/botshield/internal/cluster"
)

// ActiveObservations implements cluster.SourceProvider: it walks every
// live signature atom and emits a SignatureObservation for those whose
// windowed average bot probability clears the threshold. Country/ASN/
// datacenter enrichment isn't tracked by the coordinator in this build, so
// those dimensions default to the same neutral values the feature
// extractor already substitutes for missing spectral data.
func (c *SignatureCoordinator) ActiveObservations(minBotProbability float64) []cluster.SignatureObservation {
	var out []cluster.SignatureObservation
	c.cache.Range(func(signature string, atom *Atom) {
		obs := atom.Observation()
		if obs.AvgBotProbability < minBotProbability {
			return
		}
		out = append(out, cluster.SignatureObservation{
			Signature:         signature,
			TimingCV:          obs.TimingCV,
			RequestRate:       obs.RequestRate,
			PathDiversity:     obs.PathDiversity,
			PathEntropy:       obs.PathEntropy,
			AvgBotProbability: obs.AvgBotProbability,
			CountryReputation: 0.5,
			IsDatacenter:      false,
			ASNReputation:     0.5,
			IntervalsSeconds:  obs.IntervalsSeconds,
		})
	})
	return out
}
