// Package model defines the core data structures used throughout
// the offline-regions application.
//
// # Definition
//
// Definition describes the tile pyramid of an offline region: a style or
// tile URL, a bounding box, a zoom range and a pixel ratio.
//
//	def := model.NewDefinition(tileURL, model.UKBounds, 5, 8, 1)
//	fmt.Println(def.TileCount()) // tiles the store will fetch
//
// BoundsFromPoints builds the bounding box from a set of edge coordinates.
//
// # Region and Status
//
// Region is a handle to a region held by a Region Store. Status is the
// download progress the store reports for it; Status.Percent derives the
// percentage published to observers.
//
// # Events and Failures
//
// DownloadEvent is the closed set of lifecycle events of a download and
// Failure the closed set of reasons it can fail. Both are sealed
// interfaces, so consumers switch on the concrete types.
package model
