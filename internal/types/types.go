package types

import (
	"time"

	"github.com/google/uuid"
)

// Spot represents one DX spot announcement received from the cluster.
// Field values keep their wire-native formatting: the frequency stays a
// decimal string and the timestamp stays the short cluster form ("1912Z").
type Spot struct {
	ID           uuid.UUID `json:"id"`
	DXStation    string    `json:"dx_station"`
	FrequencyKHz string    `json:"frequency_khz"`
	Spotter      string    `json:"spotter"`
	DateTime     string    `json:"date_time"`
	Comment      string    `json:"comment"`
	Grid         string    `json:"grid"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OverlaySegment is a map line connecting a spotter and the DX station it
// reported, tagged with the meters band derived from the spot frequency.
type OverlaySegment struct {
	Start Coordinate `json:"start"`
	End   Coordinate `json:"end"`
	Band  int        `json:"band"`
}

// ConnectionPhase is the session's position in the connect/login lifecycle.
type ConnectionPhase int

const (
	PhaseIdle ConnectionPhase = iota
	PhaseConnecting
	PhaseAwaitingLogin
	PhaseLoggingIn
	PhaseActive
	PhaseDisconnecting
	PhaseReconnecting
)

func (p ConnectionPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingLogin:
		return "awaiting-login"
	case PhaseLoggingIn:
		return "logging-in"
	case PhaseActive:
		return "active"
	case PhaseDisconnecting:
		return "disconnecting"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ClusterKind is the cluster software family detected from its banner.
type ClusterKind int

const (
	ClusterUnknown ClusterKind = iota
	ClusterARCluster
	ClusterCCCluster
	ClusterDXSpider
	ClusterVE7CC
)

func (k ClusterKind) String() string {
	switch k {
	case ClusterARCluster:
		return "AR-Cluster"
	case ClusterCCCluster:
		return "CC-Cluster"
	case ClusterDXSpider:
		return "DXSpider"
	case ClusterVE7CC:
		return "VE7CC"
	default:
		return "unknown"
	}
}

// CommandType labels an outbound line so replies can be attributed to the
// command that provoked them. Bookkeeping only, never put on the wire.
type CommandType int

const (
	CmdIgnore CommandType = iota
	CmdLogon
	CmdYes
	CmdMessage
	CmdKeepAlive
	CmdShowSpots
)

// SessionState is the connection's current condition. It is mutated
// exclusively by the session state machine; everyone else gets a copy.
type SessionState struct {
	Phase         ConnectionPhase
	Cluster       ClusterKind
	LoggedOn      bool
	ConnectionNew bool // true until the first cluster-kind banner match
	LastSpotAt    time.Time
	RemoteAddress string
}

// Operator identifies the logged-in station. Supplied by configuration and
// consumed by the login sequence and the geolocation lookups.
type Operator struct {
	Callsign string
	Name     string
	QTH      string
	Grid     string
}

// PairCoordinates is the result of resolving both call signs of a spot to
// geographic positions, with the band derived from the spot frequency.
type PairCoordinates struct {
	Spotter Coordinate
	DX      Coordinate
	Band    int
}
