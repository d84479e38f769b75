// Package ingest turns DNS query logs into observation streams and feeds
// them into sketch or exact datasets.
//
// A query log is line oriented text: each line holds the queried domain and
// the client key separated by white space, optionally followed by more fields
// that are ignored. Blank lines and lines starting with '#' are skipped.
package ingest

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"regexp"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/lru"
)

const (
	// maxLineSize bounds a single log line.
	maxLineSize = 1 << 20

	// DefaultDomainCache is the number of raw domain names whose normalized
	// form is remembered when Options.DomainCache is zero.
	DefaultDomainCache = 1 << 16
)

// Options controls how raw log records become observations.
type Options struct {
	// Labels truncates domains to their rightmost labels when positive.
	Labels int
	// Minimize reduces IP client keys to their /24 or /48 network.
	Minimize bool
	// Include, when set, drops domains that do not match after normalization.
	Include *regexp.Regexp
	// DomainCache sizes the normalization cache. Zero means
	// DefaultDomainCache; negative disables caching.
	DomainCache int
}

// Stats counts what a QueryLog has read.
type Stats struct {
	Lines     int64
	Queries   int64
	Malformed int64
	Filtered  int64
	// CacheHits counts queries whose domain was resolved from the
	// normalization cache.
	CacheHits int64
}

// normalized is the cached outcome of normalizing and filtering one raw name.
type normalized struct {
	domain string
	keep   bool
}

// QueryLog reads observations from a query log.
type QueryLog struct {
	r     io.Reader
	opts  Options
	cache *lru.Cache[string, normalized]
	stats Stats
	err   error
}

// NewQueryLog creates a QueryLog over r.
func NewQueryLog(r io.Reader, opts Options) *QueryLog {
	q := &QueryLog{r: r, opts: opts}

	size := opts.DomainCache
	if size == 0 {
		size = DefaultDomainCache
	}

	if size > 0 {
		q.cache = lru.New[string, normalized](size)
	}

	return q
}

// All yields (clientKey, domain) pairs. The clientKey slice is only valid
// until the next iteration. Iteration stops at the end of input or on the
// first read error, which Err then returns. All reads the underlying reader
// and may be ranged over only once.
func (q *QueryLog) All() iter.Seq2[[]byte, string] {
	return func(yield func([]byte, string) bool) {
		scanner := bufio.NewScanner(q.r)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)

		for scanner.Scan() {
			q.stats.Lines++

			client, domain, ok := q.parse(scanner.Bytes())
			if !ok {
				continue
			}

			q.stats.Queries++

			if !yield(client, domain) {
				return
			}
		}

		q.err = scanner.Err()
	}
}

func (q *QueryLog) parse(line []byte) ([]byte, string, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return nil, "", false
	}

	fields := bytes.Fields(line)
	if len(fields) < 2 {
		q.stats.Malformed++

		return nil, "", false
	}

	name := q.domain(string(fields[0]))
	if !name.keep {
		q.stats.Filtered++

		return nil, "", false
	}

	client := fields[1]
	if q.opts.Minimize {
		client = []byte(MinimizeAddress(string(client)))
	}

	return client, name.domain, true
}

func (q *QueryLog) domain(raw string) normalized {
	if q.cache != nil {
		if name, ok := q.cache.Get(raw); ok {
			q.stats.CacheHits++

			return name
		}
	}

	domain := NormalizeDomain(raw, q.opts.Labels)
	name := normalized{
		domain: domain,
		keep:   q.opts.Include == nil || q.opts.Include.MatchString(domain),
	}

	if q.cache != nil {
		q.cache.Put(raw, name)
	}

	return name
}

// Err returns the read error that ended iteration, if any.
func (q *QueryLog) Err() error {
	return q.err
}

// Stats returns the counters accumulated so far.
func (q *QueryLog) Stats() Stats {
	return q.stats
}
