// Package target resolves configured clusters and nodes into sync target
// snapshots.
package target

import (
	"errors"
	"fmt"

	"ucm-sync/internal/config"
	"ucm-sync/internal/models"
)

var ErrTargetNotFound = errors.New("sync target not found")

type Resolver struct {
	clusters []config.ClusterConfig
}

func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{clusters: cfg.Clusters}
}

// Resolve returns a fresh snapshot of the cluster or node with the given id.
// Nodes inherit the credentials and API version of their cluster.
func (r *Resolver) Resolve(id string) (models.SyncTarget, error) {
	for i := range r.clusters {
		cluster := &r.clusters[i]
		if cluster.ID == id {
			return clusterTarget(cluster), nil
		}
		for _, node := range cluster.Nodes {
			if node.ID == id {
				return nodeTarget(cluster, node), nil
			}
		}
	}
	return models.SyncTarget{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
}

// Clusters returns a target for every configured cluster.
func (r *Resolver) Clusters() []models.SyncTarget {
	targets := make([]models.SyncTarget, 0, len(r.clusters))
	for i := range r.clusters {
		targets = append(targets, clusterTarget(&r.clusters[i]))
	}
	return targets
}

func clusterTarget(cluster *config.ClusterConfig) models.SyncTarget {
	nodes := make([]models.Node, 0, len(cluster.Nodes))
	for _, node := range cluster.Nodes {
		nodes = append(nodes, toNode(node))
	}
	return models.SyncTarget{
		Kind:          models.TargetKindCluster,
		ID:            cluster.ID,
		ClusterID:     cluster.ID,
		Name:          cluster.Name,
		APIVersion:    cluster.APIVersion,
		TLSSkipVerify: cluster.TLSSkipVerify,
		Credentials:   credentials(cluster),
		Nodes:         nodes,
	}
}

func nodeTarget(cluster *config.ClusterConfig, node config.NodeConfig) models.SyncTarget {
	return models.SyncTarget{
		Kind:          models.TargetKindNode,
		ID:            node.ID,
		ClusterID:     cluster.ID,
		Name:          node.Name,
		APIVersion:    cluster.APIVersion,
		TLSSkipVerify: cluster.TLSSkipVerify,
		Credentials:   credentials(cluster),
		Nodes:         []models.Node{toNode(node)},
	}
}

func toNode(node config.NodeConfig) models.Node {
	role := models.NodeRole(node.Role)
	if role == "" {
		role = models.NodeRoleSubscriber
	}
	return models.Node{
		ID:   node.ID,
		Name: node.Name,
		Host: node.Host,
		Role: role,
	}
}

func credentials(cluster *config.ClusterConfig) models.Credentials {
	return models.Credentials{
		Username:    cluster.Username,
		Password:    cluster.Password,
		SSHUsername: cluster.SSHUsername,
		SSHPassword: cluster.SSHPassword,
	}
}
