package testbuilder

import "ucm-sync/internal/models"

// NewClusterTarget returns a cluster target with valid credentials and the
// given node ids, the first of which is the publisher.
func NewClusterTarget(id string, nodeIDs ...string) models.SyncTarget {
	if len(nodeIDs) == 0 {
		nodeIDs = []string{id + "-pub"}
	}
	nodes := make([]models.Node, 0, len(nodeIDs))
	for i, nodeID := range nodeIDs {
		role := models.NodeRoleSubscriber
		if i == 0 {
			role = models.NodeRolePublisher
		}
		nodes = append(nodes, models.Node{
			ID:   nodeID,
			Name: nodeID,
			Host: nodeID + ".example.com",
			Role: role,
		})
	}
	return models.SyncTarget{
		Kind:       models.TargetKindCluster,
		ID:         id,
		ClusterID:  id,
		Name:       id,
		APIVersion: "14.0",
		Credentials: models.Credentials{
			Username: "axladmin",
			Password: "secret",
		},
		Nodes: nodes,
	}
}

// UserRecord is a raw ucm_users record as listUser returns it.
func UserRecord(uuid, userID string) models.RawRecord {
	return models.RawRecord{
		"uuid":      "{" + uuid + "}",
		"userid":    userID,
		"firstName": "First " + userID,
		"lastName":  "Last " + userID,
	}
}

// NamedRecord is a raw record keyed by uuid with a name element.
func NamedRecord(uuid, name string) models.RawRecord {
	return models.RawRecord{
		"uuid": "{" + uuid + "}",
		"name": name,
	}
}
