// Package classify tags inbound cluster lines with a message category.
// Classification is pure string inspection: no I/O, no state mutation.
package classify

import (
	"strconv"
	"strings"

	"github.com/dxwatch/dxwatch/internal/types"
)

// Category is the classification assigned to one inbound line.
type Category int

const (
	Info Category = iota
	Login
	AskCall
	AskName
	AskQth
	AskLocation
	Confirm
	LiveSpot
	TabularSpot
	BannerLine
	InvalidCommand
	ClusterBanner
)

func (c Category) String() string {
	switch c {
	case Login:
		return "login"
	case AskCall:
		return "ask-call"
	case AskName:
		return "ask-name"
	case AskQth:
		return "ask-qth"
	case AskLocation:
		return "ask-location"
	case Confirm:
		return "confirm"
	case LiveSpot:
		return "live-spot"
	case TabularSpot:
		return "tabular-spot"
	case BannerLine:
		return "banner"
	case InvalidCommand:
		return "invalid-command"
	case ClusterBanner:
		return "cluster-banner"
	default:
		return "info"
	}
}

// Classify assigns a category to one trimmed, non-empty line. The checks run
// in a fixed priority order because several criteria can overlap on
// adversarial input: login prompts win over everything, "DX de" wins over
// the numeric-prefix tabular rule, and the confirmation prompt is checked
// before the tabular rule so a stray "Is this correct" row is never parsed
// as a spot. Prompt matching is case-sensitive; only cluster-kind banner
// detection (via ClusterBanner) is case-insensitive.
func Classify(line string, state types.SessionState) Category {
	switch {
	case strings.Contains(line, "login:"):
		return Login
	case strings.Contains(line, "Please enter your call"):
		return AskCall
	case strings.Contains(line, "Please enter your name"):
		return AskName
	case strings.Contains(line, "Please enter your QTH"):
		return AskQth
	case strings.Contains(line, "Please enter your location"):
		return AskLocation
	case strings.Contains(line, "DX de"):
		return LiveSpot
	case strings.Contains(line, "Is this correct"):
		return Confirm
	case strings.Contains(line, "dxspider >"):
		return BannerLine
	case strings.Contains(line, "Invalid command"):
		return InvalidCommand
	case leadsWithFrequency(line):
		return TabularSpot
	}
	if state.ConnectionNew {
		if _, ok := DetectClusterKind(line); ok {
			return ClusterBanner
		}
	}
	return Info
}

// DetectClusterKind scans a banner line for the known cluster software
// markers. Only the VE7CC check is case-insensitive; the others match the
// banners verbatim.
func DetectClusterKind(line string) (types.ClusterKind, bool) {
	switch {
	case strings.Contains(line, "CC-Cluster"),
		strings.Contains(line, "CC Cluster"),
		strings.Contains(line, "CCC_Commands"):
		return types.ClusterCCCluster, true
	case strings.Contains(line, "AR-Cluster"):
		return types.ClusterARCluster, true
	case strings.Contains(line, "DXSpider"):
		return types.ClusterDXSpider, true
	case strings.Contains(strings.ToUpper(line), "VE7CC"):
		return types.ClusterVE7CC, true
	}
	return types.ClusterUnknown, false
}

// leadsWithFrequency reports whether the first four characters of the
// whitespace-condensed line parse as an integer. Tabular spot listing rows
// lead with the frequency column; free text does not.
func leadsWithFrequency(line string) bool {
	condensed := CondenseWhitespace(line)
	if len(condensed) < 4 {
		return false
	}
	_, err := strconv.Atoi(condensed[:4])
	return err == nil
}

// CondenseWhitespace collapses runs of whitespace to single spaces and trims
// the ends.
func CondenseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
