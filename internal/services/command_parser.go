package services

import (
	"strings"
)

// Feedback channels a review run may write to.
const (
	FeatureComment = "comment"
	FeatureReview  = "review"
	FeatureStatus  = "status"
)

// Review focus areas.
const (
	FocusQuality     = "quality"
	FocusSecurity    = "security"
	FocusPerformance = "performance"
	FocusLogic       = "logic"
)

var (
	validFeatures = map[string]bool{
		FeatureComment: true,
		FeatureReview:  true,
		FeatureStatus:  true,
	}
	validFocusAreas = map[string]bool{
		FocusQuality:     true,
		FocusSecurity:    true,
		FocusPerformance: true,
		FocusLogic:       true,
	}
)

// DefaultFeatures is the feedback channel set used when a trigger carries
// no explicit selection.
func DefaultFeatures() []string {
	return []string{FeatureComment}
}

// DefaultFocusAreas covers every review dimension.
func DefaultFocusAreas() []string {
	return []string{FocusQuality, FocusSecurity, FocusPerformance, FocusLogic}
}

// ReviewCommand is a parsed manual review trigger from a PR comment.
type ReviewCommand struct {
	Features   []string
	FocusAreas []string
}

// ParseCommand recognizes a "/review" line in a comment body, optionally
// requiring a leading @botUsername mention when botUsername is configured.
// Flags: --features a,b,c and --focus x,y,z; unknown flags are ignored and
// invalid values are dropped. The second return is false for anything that
// is not a command, letting callers skip ordinary comments silently.
func ParseCommand(body, botUsername string) (*ReviewCommand, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if botUsername != "" {
			mention := "@" + botUsername
			if !strings.HasPrefix(line, mention) {
				continue
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, mention))
		}

		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "/review" {
			continue
		}

		cmd := &ReviewCommand{
			Features:   DefaultFeatures(),
			FocusAreas: DefaultFocusAreas(),
		}
		for i := 1; i < len(fields); i++ {
			switch {
			case fields[i] == "--features" && i+1 < len(fields):
				if values := filterValues(fields[i+1], validFeatures); len(values) > 0 {
					cmd.Features = values
				}
				i++
			case strings.HasPrefix(fields[i], "--features="):
				if values := filterValues(strings.TrimPrefix(fields[i], "--features="), validFeatures); len(values) > 0 {
					cmd.Features = values
				}
			case fields[i] == "--focus" && i+1 < len(fields):
				if values := filterValues(fields[i+1], validFocusAreas); len(values) > 0 {
					cmd.FocusAreas = values
				}
				i++
			case strings.HasPrefix(fields[i], "--focus="):
				if values := filterValues(strings.TrimPrefix(fields[i], "--focus="), validFocusAreas); len(values) > 0 {
					cmd.FocusAreas = values
				}
			}
		}
		return cmd, true
	}
	return nil, false
}

// ParseFeatureList filters a comma-separated header value down to valid
// feedback channels, falling back to the default set.
func ParseFeatureList(raw string) []string {
	if values := filterValues(raw, validFeatures); len(values) > 0 {
		return values
	}
	return DefaultFeatures()
}

// ParseFocusList filters a comma-separated header value down to valid focus
// areas, falling back to the default set.
func ParseFocusList(raw string) []string {
	if values := filterValues(raw, validFocusAreas); len(values) > 0 {
		return values
	}
	return DefaultFocusAreas()
}

func filterValues(raw string, valid map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		v := strings.ToLower(strings.TrimSpace(part))
		if valid[v] && !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

// HasFeature reports whether a feature list enables the given channel.
func HasFeature(features []string, feature string) bool {
	for _, f := range features {
		if f == feature {
			return true
		}
	}
	return false
}
