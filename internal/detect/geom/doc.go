// Package geom provides the bird's-eye-view geometry kernels used by the
// suppression stage: corner computation for rotated boxes, axis-aligned
// (standup) reduction, and both rotated and axis-aligned IoU.
//
// Key types: BEVBox, AABB, Point.
//
// Dependency rule: geom is a leaf package; it may not depend on any other
// internal package. The corner sign convention and the rotated IoU must
// agree on counter-clockwise positive yaw: a mismatch silently produces
// wrong suppression rather than an error.
package geom
