package geo

// ClusterPoint is one candidate position for clustering, tagged with the
// caller's identifier.
type ClusterPoint struct {
	ID  string
	Lat float64
	Lon float64
}

// Cluster is a group of points within a shared radius. Center is the mean of
// member coordinates.
type Cluster struct {
	CenterLat float64
	CenterLon float64
	Points    []ClusterPoint
}

// GreedyClusters groups points by a single-pass greedy sweep: each unassigned
// point seeds a cluster and pulls in every other unassigned point within
// radiusMeters of the seed. Clusters smaller than minPoints are discarded.
// Output order follows seed order, which follows input order.
func GreedyClusters(points []ClusterPoint, radiusMeters float64, minPoints int) []Cluster {
	assigned := make([]bool, len(points))
	var clusters []Cluster

	for i := range points {
		if assigned[i] {
			continue
		}
		members := []ClusterPoint{points[i]}
		memberIdx := []int{i}

		for j := i + 1; j < len(points); j++ {
			if assigned[j] {
				continue
			}
			if Distance(points[i].Lat, points[i].Lon, points[j].Lat, points[j].Lon) <= radiusMeters {
				members = append(members, points[j])
				memberIdx = append(memberIdx, j)
			}
		}

		// An undersized group claims only its seed, so a later seed can
		// still gather the other points.
		if len(members) < minPoints {
			assigned[i] = true
			continue
		}
		for _, j := range memberIdx {
			assigned[j] = true
		}

		var sumLat, sumLon float64
		for _, m := range members {
			sumLat += m.Lat
			sumLon += m.Lon
		}
		clusters = append(clusters, Cluster{
			CenterLat: sumLat / float64(len(members)),
			CenterLon: sumLon / float64(len(members)),
			Points:    members,
		})
	}
	return clusters
}
