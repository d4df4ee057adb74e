// Package cluster partitions the engineered training rows with k-means and
// chooses the number of clusters with a knee locator on the inertia curve.
//
// Cluster ids are the centroid indexes of the fitted Partitioner. They mean
// nothing beyond routing a row to the model trained on its cluster.
package cluster
