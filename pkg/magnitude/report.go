package magnitude

import (
	"cmp"
	"math"
	"slices"
)

// Scale is the magnitude of a domain seen by every client.
const Scale = 10.0

// maxClientCount is 2^63, the first rounded estimate int64 cannot hold.
const maxClientCount = 1 << 63

// DomainMagnitude is the reported score of one domain.
type DomainMagnitude struct {
	Magnitude float64 `json:"magnitude" yaml:"magnitude"`
	Clients   int64   `json:"clients"   yaml:"clients"`
}

// Report is the result of an aggregation. Domains only lists domains with a
// non-zero magnitude. A Report is not modified after it is returned.
type Report struct {
	Clients int64                      `json:"clients" yaml:"clients"`
	Domains map[string]DomainMagnitude `json:"domains" yaml:"domains"`
}

// Candidate is a domain with its estimated client count, as considered for
// top-N selection.
type Candidate struct {
	Domain   string
	Estimate float64
}

// Ordering compares two candidates for top-N selection; negative means a
// ranks before b.
type Ordering func(a, b Candidate) int

// ByEstimate ranks candidates by estimate, highest first, breaking ties by
// ascending domain name.
func ByEstimate(a, b Candidate) int {
	if c := cmp.Compare(b.Estimate, a.Estimate); c != 0 {
		return c
	}

	return cmp.Compare(a.Domain, b.Domain)
}

// ReportOptions controls report construction.
type ReportOptions struct {
	// Top keeps only the Top highest ranked domains when greater than zero.
	Top int
	// Order ranks domains for Top; nil means ByEstimate.
	Order Ordering
}

// SelectTop returns the n highest ranked candidates under order. The input
// is not modified. n <= 0 returns all candidates, ranked.
func SelectTop(candidates []Candidate, n int, order Ordering) []Candidate {
	if order == nil {
		order = ByEstimate
	}

	ranked := slices.Clone(candidates)
	slices.SortFunc(ranked, order)

	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}

	return ranked
}

// Magnitude computes round3(10 * ln(domainClients) / ln(totalClients)).
// The second result is false when the domain is not reportable: either
// estimate rounds to one client or fewer, or the score rounds to zero.
//
// The one-client guard compares rounded estimates, not raw ones. A domain
// seen by a single client estimates slightly above 1 under linear counting
// (about 1.0001 at p=12), and its reported count would be 1, so a raw d <= 1
// test would publish single-client domains with a tiny positive score. With
// the rounded test, reported Clients and reported domains agree: a domain
// only appears when it is reported with at least 2 clients.
//
// Values above 10 are possible when the domain estimate exceeds the total
// and are not clamped.
func Magnitude(domainClients, totalClients float64) (float64, bool) {
	if math.Round(totalClients) <= 1 || math.Round(domainClients) <= 1 {
		return 0, false
	}

	mag := round3(Scale * math.Log(domainClients) / math.Log(totalClients))
	if mag == 0 {
		return 0, false
	}

	return mag, true
}

// clientCount rounds an estimate to a reported count, saturating at
// math.MaxInt64.
func clientCount(est float64) int64 {
	r := math.Round(est)
	if r >= maxClientCount {
		return math.MaxInt64
	}

	return int64(r)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// BuildReport assembles a report from a total client estimate and per-domain
// estimates. Counting backends other than sketches use it to produce reports
// with identical omission and top-N rules.
func BuildReport(total float64, candidates []Candidate, opts ReportOptions) *Report {
	report := &Report{
		Clients: clientCount(total),
		Domains: make(map[string]DomainMagnitude),
	}

	if math.Round(total) <= 1 {
		return report
	}

	if opts.Top > 0 {
		candidates = SelectTop(candidates, opts.Top, opts.Order)
	}

	for _, c := range candidates {
		mag, ok := Magnitude(c.Estimate, total)
		if !ok {
			continue
		}

		report.Domains[c.Domain] = DomainMagnitude{
			Magnitude: mag,
			Clients:   clientCount(c.Estimate),
		}
	}

	return report
}
