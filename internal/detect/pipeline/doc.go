// Package pipeline assembles the detector post-processing stages into
// the two entry points the rest of the system calls: Predict turns raw
// head outputs into per-sample detections, and the training facade
// (TrainingTargets, ComputeLoss) prepares weights, targets and reduced
// loss terms for an external optimiser.
//
// Stage order in Predict is fixed: anchor mask, residual decode,
// direction argmax, score activation, suppression, direction-aware yaw
// correction. Stages communicate through flat slices and never mutate
// their inputs.
//
// Dependency rule: pipeline may depend on detect, geom, boxcoder, nms
// and loss. Nothing below it may import it.
package pipeline
