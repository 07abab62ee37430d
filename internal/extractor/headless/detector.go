package headless

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/trendradar/newsflow/internal/pipeline"
)

// DefaultShellMarkers are substrings that betray an unrendered
// application shell.
var DefaultShellMarkers = []string{
	"enable javascript",
	"javascript is required",
	"loading...",
	"__next_data__",
	"id=\"root\"></div>",
	"id=\"app\"></div>",
}

// Detector decides whether a first-pass extraction warrants a headless
// retry, using cheap HTML signals.
type Detector struct {
	minContentBytes int
	markers         [][]byte
	selectors       []string
}

// NewDetector constructs a Detector. Zero minContentBytes disables the
// length check; nil markers uses DefaultShellMarkers.
func NewDetector(minContentBytes int, markers, selectors []string) *Detector {
	if markers == nil {
		markers = DefaultShellMarkers
	}
	lowered := make([][]byte, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(m)))
	}
	return &Detector{
		minContentBytes: minContentBytes,
		markers:         lowered,
		selectors:       selectors,
	}
}

// ShouldPromote reports whether ex looks like an unrendered page. An
// extraction that already went through the headless path never promotes.
func (d *Detector) ShouldPromote(ex pipeline.Extraction) bool {
	if d == nil || ex.UsedHeadless {
		return false
	}
	switch {
	case d.contentBelowThreshold(ex.Content):
		return true
	case d.containsMarkers(ex.Raw):
		return true
	default:
		return d.missingSelectors(ex.Raw)
	}
}

func (d *Detector) contentBelowThreshold(content string) bool {
	return d.minContentBytes > 0 && len(content) < d.minContentBytes
}

func (d *Detector) containsMarkers(raw []byte) bool {
	if len(raw) == 0 || len(d.markers) == 0 {
		return false
	}
	lower := bytes.ToLower(raw)
	for _, m := range d.markers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func (d *Detector) missingSelectors(raw []byte) bool {
	if len(d.selectors) == 0 || len(raw) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
