package tracecontext

import (
	"math"
	"strconv"
	"strings"
)

const (
	// VendorKey is the tracestate member key owned by this agent.
	VendorKey = "es"

	// DefaultMaxTraceStateLength bounds the formatted tracestate header.
	DefaultMaxTraceStateLength = 4096

	maxMembers        = 32
	maxKeyLength      = 256
	maxTenantLength   = 241
	maxSystemLength   = 14
	maxValueLength    = 256
	sampleRateKey     = "s"
	sampleRateDecimal = 4
	minSampleRate     = 0.0001
)

// Member is one key=value entry of a tracestate list.
type Member struct {
	Key   string
	Value string
}

// TraceState is an ordered tracestate list. The agent's own member is held
// separately so that it can be rewritten and moved to the front.
// TraceState values are never modified in place.
type TraceState struct {
	members []Member

	hasVendor     bool
	vendorOther   []string
	sampleRate    float64
	hasSampleRate bool
}

// ParseTraceState parses one or more tracestate header values. Multiple
// values form a single list. Invalid members are dropped; duplicate keys keep
// their first occurrence; at most 32 members are retained.
func ParseTraceState(values ...string) TraceState {
	var ts TraceState
	seen := make(map[string]struct{})
	count := 0
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			if count == maxMembers {
				return ts
			}
			member := strings.Trim(raw, " \t")
			if member == "" {
				continue
			}
			eq := strings.IndexByte(member, '=')
			if eq <= 0 {
				continue
			}
			key, val := member[:eq], member[eq+1:]
			if !validKey(key) || !validValue(val) {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			count++
			if key == VendorKey {
				ts.parseVendor(val)
				continue
			}
			ts.members = append(ts.members, Member{Key: key, Value: val})
		}
	}
	return ts
}

func (ts *TraceState) parseVendor(value string) {
	ts.hasVendor = true
	for _, part := range strings.Split(value, ";") {
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, ":")
		if ok && k == sampleRateKey {
			rate, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(rate) || rate < 0 || rate > 1 {
				continue
			}
			ts.sampleRate = rate
			ts.hasSampleRate = true
			continue
		}
		ts.vendorOther = append(ts.vendorOther, part)
	}
}

// SampleRate returns the sample rate carried by the agent's member, if any.
func (ts TraceState) SampleRate() (float64, bool) {
	return ts.sampleRate, ts.hasSampleRate
}

// WithSampleRate returns a copy of ts whose agent member carries rate,
// rounded to the propagated precision.
func (ts TraceState) WithSampleRate(rate float64) TraceState {
	ts.hasVendor = true
	ts.hasSampleRate = true
	ts.sampleRate = RoundSampleRate(rate)
	return ts
}

// Members returns the members of other vendors in list order.
func (ts TraceState) Members() []Member {
	out := make([]Member, len(ts.members))
	copy(out, ts.members)
	return out
}

// Len returns the number of list members, the agent's own included.
func (ts TraceState) Len() int {
	n := len(ts.members)
	if ts.vendorValue() != "" {
		n++
	}
	return n
}

func (ts TraceState) vendorValue() string {
	if !ts.hasVendor {
		return ""
	}
	parts := make([]string, 0, len(ts.vendorOther)+1)
	if ts.hasSampleRate {
		parts = append(parts, sampleRateKey+":"+FormatSampleRate(ts.sampleRate))
	}
	parts = append(parts, ts.vendorOther...)
	return strings.Join(parts, ";")
}

// Format encodes ts within DefaultMaxTraceStateLength. ok is false when
// there is nothing to send.
func (ts TraceState) Format() (string, bool) {
	return ts.FormatWithLimit(DefaultMaxTraceStateLength)
}

// FormatWithLimit encodes ts with the agent's member first. When the result
// would exceed limit bytes, whole members are dropped from the tail.
func (ts TraceState) FormatWithLimit(limit int) (string, bool) {
	entries := make([]string, 0, len(ts.members)+1)
	if v := ts.vendorValue(); v != "" {
		entries = append(entries, VendorKey+"="+v)
	}
	for _, m := range ts.members {
		entries = append(entries, m.Key+"="+m.Value)
	}

	total := 0
	for i, e := range entries {
		total += len(e)
		if i > 0 {
			total++
		}
	}
	for len(entries) > 0 && total > limit {
		last := entries[len(entries)-1]
		total -= len(last)
		if len(entries) > 1 {
			total--
		}
		entries = entries[:len(entries)-1]
	}
	if len(entries) == 0 {
		return "", false
	}
	return strings.Join(entries, ","), true
}

// RoundSampleRate rounds rate to four decimals. A positive rate never
// rounds down to zero.
func RoundSampleRate(rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	if rate >= 1 {
		return 1
	}
	scale := math.Pow10(sampleRateDecimal)
	rounded := math.Round(rate*scale) / scale
	if rounded < minSampleRate {
		return minSampleRate
	}
	return rounded
}

// FormatSampleRate renders rate the way it is propagated in tracestate.
func FormatSampleRate(rate float64) string {
	return strconv.FormatFloat(RoundSampleRate(rate), 'f', -1, 64)
}

func validKey(key string) bool {
	if key == "" || len(key) > maxKeyLength {
		return false
	}
	tenant, system, multi := strings.Cut(key, "@")
	if !multi {
		return isLowerAlpha(key[0]) && validKeyRest(key[1:])
	}
	if tenant == "" || len(tenant) > maxTenantLength || system == "" || len(system) > maxSystemLength {
		return false
	}
	if !isLowerAlpha(tenant[0]) && !isDigit(tenant[0]) {
		return false
	}
	return validKeyRest(tenant[1:]) && isLowerAlpha(system[0]) && validKeyRest(system[1:])
}

func validKeyRest(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isLowerAlpha(c) || isDigit(c) {
			continue
		}
		switch c {
		case '_', '-', '*', '/':
			continue
		}
		return false
	}
	return true
}

// validValue accepts visible ASCII except ',' and '=', plus space and tab.
// Whitespace is optional whitespace when it touches '=' or the end of the
// member, so the first and last characters must be visible.
func validValue(value string) bool {
	if value == "" || len(value) > maxValueLength {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isWhitespace(c) {
			continue
		}
		if c < 0x21 || c > 0x7e || c == ',' || c == '=' {
			return false
		}
	}
	return !isWhitespace(value[0]) && !isWhitespace(value[len(value)-1])
}

func isWhitespace(c byte) bool { return c == ' ' || c == '\t' }

func isLowerAlpha(c byte) bool { return 'a' <= c && c <= 'z' }

func isDigit(c byte) bool { return '0' <= c && c <= '9' }
