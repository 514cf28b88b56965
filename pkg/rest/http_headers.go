package rest

import (
	"net/http"
	"strings"
)

// ReturnPref selects the body of a POST or keyed PUT response.
type ReturnPref string

const (
	ReturnMinimal        ReturnPref = "minimal"        // {"inserted":n} / {"updated":n}
	ReturnRepresentation ReturnPref = "representation" // the row as stored
	ReturnHeadersOnly    ReturnPref = "headers-only"   // status and Location only
)

// CountPref selects how the total behind Content-Range is obtained.
type CountPref string

const (
	CountNone      CountPref = ""
	CountExact     CountPref = "exact"     // COUNT(*) on every request
	CountPlanned   CountPref = "planned"   // served from the handle's row count
	CountEstimated CountPref = "estimated" // same as planned
)

// Prefer is the part of a Prefer header (RFC 7240) this gateway acts on.
// Unknown directives and values are ignored.
type Prefer struct {
	Return ReturnPref
	Count  CountPref
}

// parsePrefer reads every Prefer header of r. It returns nil when there is
// none, which all Wants methods treat as the defaults.
func parsePrefer(r *http.Request) *Prefer {
	headers := r.Header.Values("Prefer")
	if len(headers) == 0 {
		return nil
	}

	p := &Prefer{Return: ReturnMinimal}
	for _, header := range headers {
		for directive := range strings.SplitSeq(header, ",") {
			key, value, ok := strings.Cut(directive, "=")
			if !ok {
				continue
			}
			key = strings.ToLower(strings.TrimSpace(key))
			value = strings.ToLower(strings.Trim(strings.TrimSpace(value), `"`))

			switch key {
			case "return":
				switch rp := ReturnPref(value); rp {
				case ReturnMinimal, ReturnRepresentation, ReturnHeadersOnly:
					p.Return = rp
				}
			case "count":
				switch cp := CountPref(value); cp {
				case CountExact, CountPlanned, CountEstimated:
					p.Count = cp
				}
			}
		}
	}
	return p
}

func (p *Prefer) WantsRepresentation() bool {
	return p != nil && p.Return == ReturnRepresentation
}

func (p *Prefer) WantsHeadersOnly() bool {
	return p != nil && p.Return == ReturnHeadersOnly
}

// WantsCountExact reports whether the total must be counted for this request.
func (p *Prefer) WantsCountExact() bool {
	return p != nil && p.Count == CountExact
}

// WantsCountEstimated reports whether the cached row count will do.
func (p *Prefer) WantsCountEstimated() bool {
	return p != nil && (p.Count == CountEstimated || p.Count == CountPlanned)
}
