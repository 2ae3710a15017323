// Package missiontext implements the §12 natural-language mission
// shorthand parser: a small deterministic (regex-based, no LLM call)
// translator from free text like "patrol pads 1 and 6 twice, 5s dwell"
// into the same mission.Params a challenge_cruise_start command carries.
package missiontext

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/canopy-robotics/canopy-agent/internal/mission"
)

var (
	padPairRe   = regexp.MustCompile(`(?i)pads?\s*(\d+)\s*(?:and|&|to|,)\s*(?:pads?\s*)?(\d+)`)
	roundsNumRe = regexp.MustCompile(`(?i)(\d+)\s*(?:rounds?|times|laps?)`)
	dwellRe     = regexp.MustCompile(`(?i)(\d+)\s*(?:s|sec|secs|seconds?)\s*dwell|dwell(?:ing)?(?: for)?\s*(\d+)\s*(?:s|sec|secs|seconds?)`)
	heightRe    = regexp.MustCompile(`(?i)(?:at|height)\s*(\d+)\s*cm`)

	wordRounds = map[string]int{
		"once": 1, "twice": 2, "thrice": 3,
	}
)

// Parse extracts mission.Params from free text, applying mission's own
// defaults (DefaultParams) for whatever it cannot find. An error is only
// returned when no pad pair is present at all; everything else degrades
// to a default rather than failing the command.
func Parse(text string) (mission.Params, error) {
	params := mission.DefaultParams()
	lower := strings.ToLower(text)

	if m := padPairRe.FindStringSubmatch(lower); m != nil {
		a, errA := strconv.Atoi(m[1])
		b, errB := strconv.Atoi(m[2])
		if errA != nil || errB != nil {
			return mission.Params{}, fmt.Errorf("missiontext: invalid pad numbers in %q", text)
		}
		params.TargetPads = [2]int{a, b}
	} else {
		return mission.Params{}, fmt.Errorf("missiontext: no pad pair found in %q", text)
	}

	if m := roundsNumRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			params.Rounds = n
		}
	} else {
		for word, n := range wordRounds {
			if strings.Contains(lower, word) {
				params.Rounds = n
				break
			}
		}
	}

	if m := dwellRe.FindStringSubmatch(lower); m != nil {
		secStr := m[1]
		if secStr == "" {
			secStr = m[2]
		}
		if n, err := strconv.Atoi(secStr); err == nil && n >= 0 {
			params.DwellSeconds = n
		}
	}

	if m := heightRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			params.HeightCM = n
		}
	}

	return params, nil
}
