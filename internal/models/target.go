package models

import "fmt"

type TargetKind string

const (
	TargetKindCluster TargetKind = "cluster"
	TargetKindNode    TargetKind = "node"
)

type NodeRole string

const (
	NodeRolePublisher  NodeRole = "publisher"
	NodeRoleSubscriber NodeRole = "subscriber"
)

type Credentials struct {
	Username    string
	Password    string
	SSHUsername string
	SSHPassword string
}

// Valid reports whether the AXL credentials are usable. SSH credentials are
// optional.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

type Node struct {
	ID   string
	Name string
	Host string
	Role NodeRole
}

// SyncTarget is the snapshot of what a run syncs against. It is resolved once
// when the run starts and never refreshed while the run is in flight.
type SyncTarget struct {
	Kind          TargetKind
	ID            string
	ClusterID     string
	Name          string
	APIVersion    string
	TLSSkipVerify bool
	Credentials   Credentials
	Nodes         []Node
}

// Clone returns a deep copy so callers cannot mutate a run's snapshot.
func (t SyncTarget) Clone() SyncTarget {
	clone := t
	clone.Nodes = append([]Node(nil), t.Nodes...)
	return clone
}

// APINode returns the node AXL requests are sent to: the publisher when one is
// known, otherwise the first node.
func (t SyncTarget) APINode() (Node, error) {
	if len(t.Nodes) == 0 {
		return Node{}, fmt.Errorf("target %s has no nodes", t.ID)
	}
	for _, node := range t.Nodes {
		if node.Role == NodeRolePublisher {
			return node, nil
		}
	}
	return t.Nodes[0], nil
}

func (t SyncTarget) String() string {
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

// SyncUnit is one entity type synced against one target.
type SyncUnit struct {
	EntityType EntityType
	Target     SyncTarget
}

func NewSyncUnit(entityType EntityType, target SyncTarget) SyncUnit {
	return SyncUnit{EntityType: entityType, Target: target}
}

// ID is stable for a given entity type and target.
func (u SyncUnit) ID() string {
	return fmt.Sprintf("%s@%s", u.EntityType, u.Target.ID)
}
