package domain

import (
	"strings"
	"time"
)

type NodeType string

const (
	NodeMesh       NodeType = "mesh"
	NodeStandalone NodeType = "standalone"
)

// Coordinates assigned to a node the first time it reports. Ingestion never
// changes them afterwards.
const (
	DefaultNodeLatitude  = -34.3382
	DefaultNodeLongitude = -56.7055
)

var standaloneMarkers = []string{"nodows", "nodesw", "standalone"}

// NodeRecord is the presence row kept for every reporting sensor node.
type NodeRecord struct {
	NodeID    string
	Latitude  float64
	Longitude float64
	Type      NodeType
	LastSeen  time.Time
}

// ClassifyNode derives the node type from its identifier.
func ClassifyNode(nodeID string) NodeType {
	id := strings.ToLower(nodeID)
	for _, marker := range standaloneMarkers {
		if strings.Contains(id, marker) {
			return NodeStandalone
		}
	}
	return NodeMesh
}
