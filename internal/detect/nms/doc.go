// Package nms implements greedy non-maximum suppression over bird's-eye
// view boxes, plus the per-class orchestration used for multiclass
// detection heads.
//
// Two strategies share one contract: Rotated scores overlap with exact
// rotated IoU, Standup first reduces every box to its axis-aligned hull
// (cheaper, over-suppresses rotated boxes). Results are deterministic:
// candidates are visited in descending score order with ties broken by
// ascending original index, so equal inputs always produce equal outputs.
//
// Dependency rule: nms may depend on geom and detect only.
package nms
