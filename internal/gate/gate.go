// Package gate classifies fetched and derived content before the
// pipeline is allowed to progress. All checks are pure: no I/O, no
// external calls, and a structured reason on every verdict.
package gate

import (
	"fmt"
	"strings"
)

// Verdict is the outcome of a single gate check.
type Verdict struct {
	OK     bool
	Reason string
}

func pass(reason string) Verdict   { return Verdict{OK: true, Reason: reason} }
func reject(reason string) Verdict { return Verdict{OK: false, Reason: reason} }

// Thresholds holds the tunable gate parameters.
type Thresholds struct {
	Diversity       float64 // minimum line-diversity score
	MinGrowthRatio  float64 // enrichment size-growth ratio
	MinPayloadBytes int     // enrichment absolute-size floor
	Confidence      float64 // minimum synthesis confidence
}

// DefaultThresholds returns the gate defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Diversity:       0.3,
		MinGrowthRatio:  1.2,
		MinPayloadBytes: 2048,
		Confidence:      0.6,
	}
}

// garbageMarkers identify not-found pages, disambiguation pages, and
// search-result dumps that sometimes come back instead of an article.
var garbageMarkers = []string{
	"may refer to:",
	"did you mean",
	"search results",
	"there is currently no text in this page",
	"this page does not exist",
	"no results found",
	"404 not found",
	"special:search",
}

// sectionMarkers are headings a real character article tends to carry.
var sectionMarkers = []string{
	"personality",
	"appearance",
	"biography",
	"history",
	"abilities",
	"relationships",
	"voiced by",
	"first appearance",
	"quotes",
	"trivia",
}

// ValidateRaw decides whether fetched wiki content is a usable character
// article. rootURL is the wiki's base URL; a fetch that collapsed back to
// it means the page id resolved to a redirect, not an article.
func ValidateRaw(content, sourceURL, rootURL string, th Thresholds) Verdict {
	if strings.TrimSpace(content) == "" {
		return reject("empty content")
	}

	if rootURL != "" && collapsedToRoot(sourceURL, rootURL) {
		return reject(fmt.Sprintf("redirected to wiki homepage (%s)", sourceURL))
	}

	lowered := strings.ToLower(content)
	for _, marker := range garbageMarkers {
		if strings.Contains(lowered, marker) {
			return reject(fmt.Sprintf("garbage marker %q found", marker))
		}
	}

	if hasSectionMarker(lowered) {
		return pass("section markers present")
	}

	score := DiversityScore(content)
	if score < th.Diversity {
		return reject(fmt.Sprintf("no section markers and diversity %.3f below %.3f", score, th.Diversity))
	}
	return pass(fmt.Sprintf("diversity %.3f", score))
}

// DiversityScore measures content variety: distinct non-blank lines
// divided by content length in hundreds of characters. Repetitive dumps
// score near zero.
func DiversityScore(content string) float64 {
	distinct := make(map[string]struct{})
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			distinct[line] = struct{}{}
		}
	}
	denom := float64(len(content)) / 100
	if denom < 1 {
		denom = 1
	}
	return float64(len(distinct)) / denom
}

// EnhancementSignificant decides whether an enrichment payload improved
// on the previous one enough to keep. A populated dialogue field always
// counts: sample lines are the highest-value input for voice generation.
func EnhancementSignificant(oldSize, newSize int, hasDialogue bool, th Thresholds) Verdict {
	if hasDialogue {
		return pass("dialogue samples present")
	}
	if newSize >= th.MinPayloadBytes {
		return pass(fmt.Sprintf("payload size %d above %d", newSize, th.MinPayloadBytes))
	}
	denom := oldSize
	if denom < 1 {
		denom = 1
	}
	ratio := float64(newSize) / float64(denom)
	if ratio > th.MinGrowthRatio {
		return pass(fmt.Sprintf("growth ratio %.2f above %.2f", ratio, th.MinGrowthRatio))
	}
	return reject(fmt.Sprintf("growth ratio %.2f and size %d below thresholds", ratio, newSize))
}

// AcceptConfidence gates a synthesized profile on its reported confidence.
func AcceptConfidence(confidence, threshold float64) Verdict {
	if confidence >= threshold {
		return pass(fmt.Sprintf("confidence %.2f meets %.2f", confidence, threshold))
	}
	return reject(fmt.Sprintf("confidence %.2f below %.2f", confidence, threshold))
}

// minRawCharsForVoice is how much article text makes a lower-confidence
// profile still worth voicing.
const minRawCharsForVoice = 500

// SufficientForVoice decides whether enough derived data exists to spend
// voice-generation quota on a subject.
func SufficientForVoice(hasProfile bool, confidence, threshold float64, rawChars int, hasIntermediate bool) Verdict {
	switch {
	case hasProfile && confidence >= threshold:
		return pass("high-confidence profile")
	case hasProfile && rawChars >= minRawCharsForVoice:
		return pass("profile with substantial source text")
	case hasIntermediate:
		return pass("intermediate analysis present")
	}
	return reject("no profile, intermediates, or sufficient source text")
}

func hasSectionMarker(lowered string) bool {
	for _, marker := range sectionMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// collapsedToRoot reports whether sourceURL is the wiki root rather than
// an article page.
func collapsedToRoot(sourceURL, rootURL string) bool {
	src := normalizeURL(sourceURL)
	root := normalizeURL(rootURL)
	if src == "" || root == "" {
		return false
	}
	return src == root || src == root+"/wiki"
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(strings.ToLower(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return strings.TrimRight(u, "/")
}
