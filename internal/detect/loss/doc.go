// Package loss turns raw per-anchor labels into the weighted training
// signals the external loss functors consume: classification and
// regression weight tensors under a selectable normalisation policy,
// direction (hemisphere) targets, one-hot class targets, and the
// sin-difference yaw encoding.
//
// The functors themselves (smooth-L1, focal, softmax) live outside this
// module; this package only defines their contract and the arithmetic
// around them. Everything here is a pure function of its inputs;
// weights are recomputed every call and never persisted.
//
// Dependency rule: loss may depend on detect only.
package loss
