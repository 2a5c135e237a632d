package reservation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/tikcluster/tikwatch/internal/utils"
)

// WildcardResource marks an announcement instead of a hold on a specific machine
const WildcardResource = "tikgpuX"

// Resource is one "<count>x <name>" item of a reservation line
type Resource struct {
	Count int    `json:"count"`
	Name  string `json:"name"`
}

func (r Resource) String() string {
	return fmt.Sprintf("%dx %s", r.Count, r.Name)
}

// IsWildcard reports whether the resource names the tikgpuX class
func (r Resource) IsWildcard() bool {
	return utils.EqualFold(r.Name, WildcardResource)
}

// Event is a decoded reservation line. It is never modified after decoding.
type Event struct {
	Username   string     `json:"username"`
	Resources  []Resource `json:"resources"`
	Comment    string     `json:"comment,omitempty"`
	IsWildcard bool       `json:"is_wildcard"`
}

// String renders the event in canonical form; multi-resource events join items with ", "
func (e Event) String() string {
	items := make([]string, len(e.Resources))
	for i, r := range e.Resources {
		items[i] = r.String()
	}
	line := e.Username + " @ " + strings.Join(items, ", ")
	if e.Comment != "" {
		line += " (" + e.Comment + ")"
	}
	return line
}

// TotalCount sums the reserved counts over all resources
func (e Event) TotalCount() int {
	total := 0
	for _, r := range e.Resources {
		total += r.Count
	}
	return total
}

// ParseFailure is a reservation line that could not be decoded.
// It is reported as data so operators can fix the calendar entry.
type ParseFailure struct {
	OriginalText string `json:"original_text"`
	Reason       string `json:"reason"`
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("%s [reason: %s]", f.OriginalText, f.Reason)
}

// Batch is the outcome of decoding a multi-line feed
type Batch struct {
	Events   []Event        `json:"events"`
	Failures []ParseFailure `json:"failures"`
}

// Decoder decodes reservation lines. The zero value performs only the grammar checks.
type Decoder struct {
	// KnownUser rejects lines whose owner is not in the user directory
	KnownUser func(username string) bool
	// ResourcePattern rejects resource names that do not match
	ResourcePattern *regexp.Regexp
}

// NewStrictDecoder builds a decoder that checks owners against known and
// resource names against pattern (DefaultResourcePattern when empty).
func NewStrictDecoder(known func(string) bool, pattern string) (*Decoder, error) {
	if pattern == "" {
		pattern = DefaultResourcePattern
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid resource pattern %q: %w", pattern, err)
	}
	return &Decoder{KnownUser: known, ResourcePattern: re}, nil
}

// DefaultResourcePattern matches the cluster's machines and the wildcard class
const DefaultResourcePattern = `^(artongpu(0[1-9]|10)|tikgpu(0[1-9]|10|X))$`

var itemPattern = regexp.MustCompile(`^(\d+)\s*[xX]\s*([^\s,()]+)`)

// Decode decodes a single reservation line with grammar checks only
func Decode(text string) (Event, error) {
	var d Decoder
	return d.Decode(text)
}

// DecodeLines decodes every non-blank line, keeping failures alongside successes
func DecodeLines(lines []string) Batch {
	var d Decoder
	return d.DecodeLines(lines)
}

// DecodeFeed splits a newline-delimited feed and decodes each line
func DecodeFeed(text string) Batch {
	return DecodeLines(strings.Split(text, "\n"))
}

// DecodeLines decodes every non-blank line, keeping failures alongside successes
func (d *Decoder) DecodeLines(lines []string) Batch {
	batch := Batch{
		Events:   []Event{},
		Failures: []ParseFailure{},
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		event, err := d.Decode(line)
		if err != nil {
			batch.Failures = append(batch.Failures, *err.(*ParseFailure))
			continue
		}
		batch.Events = append(batch.Events, event)
	}
	return batch
}

// Decode parses "username @ NRx resource[, NRx resource] (comment)".
// The returned error is always a *ParseFailure.
func (d *Decoder) Decode(text string) (Event, error) {
	fail := func(format string, args ...interface{}) (Event, error) {
		return Event{}, &ParseFailure{OriginalText: text, Reason: fmt.Sprintf(format, args...)}
	}

	line := strings.TrimSpace(text)
	at := strings.Index(line, "@")
	if at < 0 {
		return fail("missing @")
	}

	username := strings.TrimSpace(line[:at])
	rest := strings.TrimSpace(line[at+1:])
	if username == "" {
		return fail("missing username")
	}
	if strings.ContainsAny(username, " \t()") {
		return fail("invalid username: %s", username)
	}
	if d.KnownUser != nil && !d.KnownUser(username) {
		return fail("invalid username: %s", username)
	}

	// The comment runs from the first "(" to the closing ")" at the end of the line
	var comment string
	if open := strings.Index(rest, "("); open >= 0 {
		if !strings.HasSuffix(rest, ")") || !balanced(rest[open+1:len(rest)-1]) {
			return fail("unbalanced parenthesis")
		}
		comment = strings.TrimSpace(rest[open+1 : len(rest)-1])
		rest = strings.TrimSpace(rest[:open])
	} else if strings.Contains(rest, ")") {
		return fail("unbalanced parenthesis")
	}

	resources, reason := d.parseResources(rest)
	if reason != "" {
		return fail("%s", reason)
	}

	return Event{
		Username:   username,
		Resources:  resources,
		Comment:    comment,
		IsWildcard: allWildcard(resources),
	}, nil
}

func (d *Decoder) parseResources(list string) ([]Resource, string) {
	var resources []Resource
	remaining := list
	for {
		remaining = strings.TrimLeft(remaining, ", \t")
		if remaining == "" {
			break
		}

		match := itemPattern.FindStringSubmatch(remaining)
		if match == nil {
			return nil, "invalid resource item: " + firstToken(remaining)
		}

		count, err := strconv.Atoi(match[1])
		if err != nil || count <= 0 {
			return nil, "count must be a positive integer: " + match[1]
		}
		name := match[2]
		if d.ResourcePattern != nil && !d.ResourcePattern.MatchString(name) {
			return nil, "invalid resource: " + name
		}

		resources = append(resources, Resource{Count: count, Name: name})
		remaining = remaining[len(match[0]):]
	}

	if len(resources) == 0 {
		return nil, "missing resources"
	}
	return resources, ""
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func containsSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}

func firstToken(s string) string {
	if i := strings.IndexAny(s, ", \t"); i >= 0 {
		return s[:i]
	}
	return s
}

func allWildcard(resources []Resource) bool {
	if len(resources) == 0 {
		return false
	}
	for _, r := range resources {
		if !r.IsWildcard() {
			return false
		}
	}
	return true
}

// Encode renders the canonical single-resource line
// "<username> @ <count>x <resource>[ (<comment>)]".
func Encode(username string, count int, resource, comment string) (string, error) {
	username = strings.TrimSpace(username)
	resource = strings.TrimSpace(resource)
	comment = strings.TrimSpace(comment)

	if username == "" {
		return "", fmt.Errorf("username cannot be empty")
	}
	if containsSpace(username) || strings.ContainsAny(username, "@()") {
		return "", fmt.Errorf("invalid username: %q", username)
	}
	if count <= 0 {
		return "", fmt.Errorf("count must be positive, got %d", count)
	}
	if resource == "" {
		return "", fmt.Errorf("resource cannot be empty")
	}
	if containsSpace(resource) || strings.ContainsAny(resource, ",()") {
		return "", fmt.Errorf("invalid resource: %q", resource)
	}
	if strings.ContainsAny(comment, "\r\n") || !balanced(comment) {
		return "", fmt.Errorf("comment must be a single line with balanced parentheses: %q", comment)
	}

	event := Event{
		Username:  username,
		Resources: []Resource{{Count: count, Name: resource}},
		Comment:   comment,
	}
	return event.String(), nil
}
