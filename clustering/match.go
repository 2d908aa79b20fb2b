package clustering

import (
	"context"
	"fmt"

	"github.com/miku/authorkit/bibref"
	"github.com/miku/authorkit/matching"
)

// MatchClusterSets pairs clusters of two sets so that the total number of
// shared signatures is maximal. Pairs without any shared signature are not
// reported.
func MatchClusterSets(cs1, cs2 *ClusterSet) (map[*Cluster]*Cluster, error) {
	result := make(map[*Cluster]*Cluster)
	if cs1.Len() == 0 || cs2.Len() == 0 {
		return result, nil
	}
	cost := make([][]float64, cs1.Len())
	for i, a := range cs1.Clusters {
		cost[i] = make([]float64, cs2.Len())
		for j, b := range cs2.Clusters {
			cost[i][j] = -float64(a.Bibs.Intersect(b.Bibs))
		}
	}
	assignment, err := matching.Assign(cost)
	if err != nil {
		return nil, fmt.Errorf("clustering: match %s: %w", cs1.LastName, err)
	}
	for _, a := range assignment {
		if a.Cost == 0 {
			continue
		}
		result[cs1.Clusters[a.Row]] = cs2.Clusters[a.Col]
	}
	return result, nil
}

// ResultWriter persists clusters.
type ResultWriter interface {
	SaveCluster(ctx context.Context, key string, bibs []bibref.Record) error
}

// Store writes every non-empty cluster under "<name>.<index>", numbering
// from zero.
func (cs *ClusterSet) Store(ctx context.Context, w ResultWriter, name string) error {
	var i int
	for _, c := range cs.Clusters {
		if len(c.Bibs) == 0 {
			continue
		}
		if err := w.SaveCluster(ctx, ResultKey(name, i), c.Bibs.Slice()); err != nil {
			return fmt.Errorf("clustering: store %s: %w", name, err)
		}
		i++
	}
	return nil
}
