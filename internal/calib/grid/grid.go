// Package grid defines the shared vocabulary of the calibration core:
// tile addresses, motor assignments and blob measurements.
package grid

import (
	"fmt"
	"sort"
	"time"
)

// TileAddress identifies one mirror cell in the grid.
// Key is the canonical "{row}-{col}" form used as map key throughout.
type TileAddress struct {
	Row int
	Col int
	Key string
}

// NewTileAddress builds the address for a grid cell.
func NewTileAddress(row, col int) TileAddress {
	return TileAddress{Row: row, Col: col, Key: fmt.Sprintf("%d-%d", row, col)}
}

// Motor identifies a physical actuator on a controller node.
type Motor struct {
	NodeMac    string `yaml:"node_mac" json:"nodeMac"`
	MotorIndex int    `yaml:"motor_index" json:"motorIndex"`
}

// AxisKey returns the stable identity of a physical axis, used for the
// executor's last-known-position cache.
func (m Motor) AxisKey() string {
	return fmt.Sprintf("%s/%d", m.NodeMac, m.MotorIndex)
}

// MirrorAssignment binds a tile's two axes to motors. Either axis may be
// nil (unassigned).
type MirrorAssignment struct {
	X *Motor `yaml:"x" json:"x"`
	Y *Motor `yaml:"y" json:"y"`
}

// Calibratable reports whether both axes are assigned.
func (a MirrorAssignment) Calibratable() bool {
	return a.X != nil && a.Y != nil
}

// MirrorConfig maps tile keys to motor assignments. Supplied externally,
// read-only to the core.
type MirrorConfig map[string]MirrorAssignment

// MacUnion returns the sorted, de-duplicated set of node MACs assigned to
// the given tiles. Sorted so command sequences stay deterministic.
func (c MirrorConfig) MacUnion(tiles []TileAddress) []string {
	seen := make(map[string]struct{})
	for _, t := range tiles {
		a, ok := c[t.Key]
		if !ok {
			continue
		}
		if a.X != nil {
			seen[a.X.NodeMac] = struct{}{}
		}
		if a.Y != nil {
			seen[a.Y.NodeMac] = struct{}{}
		}
	}
	macs := make([]string, 0, len(seen))
	for mac := range seen {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

// Position is a point in centered normalized camera coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p - q.
func (p Position) Sub(q Position) Position {
	return Position{X: p.X - q.X, Y: p.Y - q.Y}
}

// Add returns p + q.
func (p Position) Add(q Position) Position {
	return Position{X: p.X + q.X, Y: p.Y + q.Y}
}

// BlobMeasurement is one normalized blob detection. Produced once per
// successful capture; immutable.
type BlobMeasurement struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Size       float64   `json:"size"`
	Response   float64   `json:"response"`
	CapturedAt time.Time `json:"capturedAt"`

	// Source/ROI dimensions, zero when unknown.
	SourceWidth  int `json:"sourceWidth,omitempty"`
	SourceHeight int `json:"sourceHeight,omitempty"`
	ROIWidth     int `json:"roiWidth,omitempty"`
	ROIHeight    int `json:"roiHeight,omitempty"`
}

// Pos returns the measurement's position.
func (m BlobMeasurement) Pos() Position {
	return Position{X: m.X, Y: m.Y}
}

// Pose names a motor position a whole tile can be sent to.
type Pose string

const (
	// PoseHome is step zero on both axes.
	PoseHome Pose = "home"
	// PoseAside is the parked position keeping the tile's blob out of view.
	PoseAside Pose = "aside"
)
