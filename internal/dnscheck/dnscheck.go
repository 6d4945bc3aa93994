// Package dnscheck verifies the sender domain's SPF, DKIM and DMARC records
// before a campaign goes out.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	ErrInvalidDomain   = errors.New("invalid domain name")
	ErrInvalidSelector = errors.New("invalid DKIM selector")
)

var (
	domainRegex   = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
	selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// Status of a single record check
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if a DKIM selector is a valid DNS label
func ValidateSelector(selector string) error {
	if !selectorRegex.MatchString(selector) {
		return ErrInvalidSelector
	}
	return nil
}

// Resolver looks up TXT records. *net.Resolver satisfies it.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Result is the outcome of one record check
type Result struct {
	Record  string `json:"record"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report holds every check run for a sender domain
type Report struct {
	Domain  string   `json:"domain"`
	Results []Result `json:"results"`
}

// Ready reports whether no check failed or came back empty.
// Warnings do not block a campaign.
func (r *Report) Ready() bool {
	for _, res := range r.Results {
		if res.Status == StatusError || res.Status == StatusNotFound {
			return false
		}
	}
	return true
}

// Options selects the DKIM record to check
type Options struct {
	Selector string
	// PublicRecord is the locally derived "v=DKIM1; k=rsa; p=..." value.
	// When set, the published key must match it.
	PublicRecord string
}

// Checker runs record checks against a resolver
type Checker struct {
	resolver Resolver
}

// New creates a checker. A nil resolver uses net.DefaultResolver.
func New(resolver Resolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// Check runs the SPF, DKIM and DMARC checks for domain
func (c *Checker) Check(ctx context.Context, domain string, opts Options) (*Report, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if opts.Selector != "" {
		if err := ValidateSelector(opts.Selector); err != nil {
			return nil, err
		}
	}

	report := &Report{Domain: domain}
	report.Results = append(report.Results, c.CheckSPF(ctx, domain))
	if opts.Selector != "" {
		report.Results = append(report.Results, c.CheckDKIM(ctx, domain, opts.Selector, opts.PublicRecord))
	}
	report.Results = append(report.Results, c.CheckDMARC(ctx, domain))

	return report, nil
}

// CheckSPF checks SPF record for a domain
func (c *Checker) CheckSPF(ctx context.Context, domain string) Result {
	result := Result{Record: "SPF", Name: domain}

	records, ok := c.lookup(ctx, domain, &result)
	if !ok {
		return result
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		result.Status = StatusOK
		result.Value = txt
		switch {
		case strings.Contains(txt, "+all"):
			result.Status = StatusWarning
			result.Message = "SPF uses +all and allows any sender"
		case strings.Contains(txt, "-all"):
			result.Message = "strict policy (-all)"
		case strings.Contains(txt, "~all"):
			result.Message = "soft fail (~all)"
		}
		return result
	}

	result.Status = StatusNotFound
	result.Message = "no SPF record"
	return result
}

// CheckDKIM checks the DKIM record published under selector._domainkey.domain
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector, expected string) Result {
	name := fmt.Sprintf("%s._domainkey.%s", selector, domain)
	result := Result{Record: "DKIM", Name: name}

	records, ok := c.lookup(ctx, name, &result)
	if !ok {
		return result
	}

	// Long keys are split across several strings.
	full := strings.Join(records, "")
	result.Value = truncate(full, 100)

	if !strings.Contains(full, "v=DKIM1") {
		result.Status = StatusWarning
		result.Message = "TXT record is not a DKIM record"
		return result
	}

	published := tagValue(full, "p")
	if published == "" {
		result.Status = StatusError
		result.Message = "DKIM record has no public key (p=)"
		return result
	}

	if expected != "" && published != tagValue(expected, "p") {
		result.Status = StatusError
		result.Message = "published key does not match the local private key"
		return result
	}

	result.Status = StatusOK
	result.Message = "public key published"
	return result
}

// CheckDMARC checks DMARC record for a domain
func (c *Checker) CheckDMARC(ctx context.Context, domain string) Result {
	name := "_dmarc." + domain
	result := Result{Record: "DMARC", Name: name}

	records, ok := c.lookup(ctx, name, &result)
	if !ok {
		return result
	}

	full := strings.Join(records, "")
	result.Value = full

	if !strings.HasPrefix(full, "v=DMARC1") {
		result.Status = StatusWarning
		result.Message = "TXT record is not a DMARC record"
		return result
	}

	result.Status = StatusOK
	switch tagValue(full, "p") {
	case "reject":
		result.Message = "reject policy"
	case "quarantine":
		result.Message = "quarantine policy"
	case "none":
		result.Status = StatusWarning
		result.Message = "none policy, monitoring only"
	}
	return result
}

// lookup fills result on failure and reports whether records were found
func (c *Checker) lookup(ctx context.Context, name string, result *Result) ([]string, bool) {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			result.Status = StatusNotFound
			result.Message = "no TXT record"
			return nil, false
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("lookup failed: %v", err)
		return nil, false
	}
	if len(records) == 0 {
		result.Status = StatusNotFound
		result.Message = "no TXT record"
		return nil, false
	}
	return records, true
}

// tagValue returns the value of tag in a "k=v; k=v" record
func tagValue(record, tag string) string {
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.TrimSpace(k) == tag {
			return strings.Join(strings.Fields(v), "")
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
