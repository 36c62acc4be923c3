// Package detect holds the shared domain types for the LiDAR detection
// post-processing pipeline.
//
// Responsibilities: 7-DOF box representation and its flat tensor layout,
// raw head-output carriers, final detection containers, and pipeline
// telemetry.
// Key types: Box, BatchPreds, Detections, Stats.
//
// Dependency rule: detect depends on nothing else in internal/; every
// other detect/* package may depend on it.
package detect
