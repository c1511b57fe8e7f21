// Package calibration owns the device geometry model.
//
// Responsibilities: per-sensor intrinsics with the rational Brown-Conrady
// lens model, rigid extrinsics between the depth, color, gyro and accel
// spaces, and the 2D/3D conversions built on top of them.
// Key types: Calibration, Intrinsics, Extrinsics, Space, DepthMap.
//
// A Calibration is immutable once built by New. Every conversion is a pure
// function of its arguments and the fixed geometry, so one value may be
// shared between goroutines without locking.
//
// Units: 3D points are millimetres, 2D points are pixels with (0,0) at the
// centre of the top-left pixel.
package calibration
