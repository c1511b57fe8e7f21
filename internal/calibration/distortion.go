package calibration

import "math"

const (
	// unprojectMaxPasses bounds the Gauss-Newton refinement in Unproject.
	unprojectMaxPasses = 20
	// unprojectConverged stops refinement once the squared pixel error is
	// this small.
	unprojectConverged = 1e-22
	// unprojectMaxError is the largest squared pixel error accepted as a
	// successful inversion.
	unprojectMaxError = 1e-6
)

// Project maps a normalized image point (x/z, y/z) to pixel coordinates
// through the lens model. valid is false when the point lies outside
// MetricRadius.
func (in Intrinsics) Project(xy Point2) (uv Point2, valid bool) {
	uv, _, valid = in.project(xy, false)
	return uv, valid
}

// project returns the pixel for xy and, when withJacobian is set, the 2x2
// Jacobian d(uv)/d(xy) in row-major order.
func (in Intrinsics) project(xy Point2, withJacobian bool) (Point2, [4]float64, bool) {
	var jac [4]float64

	xp := xy.X - in.Codx
	yp := xy.Y - in.Cody

	xp2 := xp * xp
	yp2 := yp * yp
	xyp := xp * yp
	rs := xp2 + yp2
	if in.MetricRadius > 0 && rs > in.MetricRadius*in.MetricRadius {
		return Point2{}, jac, false
	}

	rss := rs * rs
	rsc := rss * rs
	a := 1 + in.K1*rs + in.K2*rss + in.K3*rsc
	b := 1 + in.K4*rs + in.K5*rss + in.K6*rsc
	bi := 1.0
	if b != 0 {
		bi = 1 / b
	}
	d := a * bi

	// Brown-Conrady carries a factor of two on the cross term.
	cross := 2.0
	if in.Model == ModelRational6KT {
		cross = 1
	}

	rs2xp2 := rs + 2*xp2
	rs2yp2 := rs + 2*yp2
	xpd := xp*d + rs2xp2*in.P2 + cross*xyp*in.P1
	ypd := yp*d + rs2yp2*in.P1 + cross*xyp*in.P2

	uv := Point2{
		X: (xpd+in.Codx)*in.Fx + in.Cx,
		Y: (ypd+in.Cody)*in.Fy + in.Cy,
	}
	if math.IsNaN(uv.X) || math.IsNaN(uv.Y) || math.IsInf(uv.X, 0) || math.IsInf(uv.Y, 0) {
		return Point2{}, jac, false
	}
	if !withJacobian {
		return uv, jac, true
	}

	dadrs := in.K1 + 2*in.K2*rs + 3*in.K3*rss
	dbdrs := in.K4 + 2*in.K5*rs + 3*in.K6*rss
	dddrs2 := 2 * (dadrs*b - a*dbdrs) * bi * bi
	xpdddrs2 := xp * dddrs2
	ypxpdddrs2 := yp * xpdddrs2

	jac[0] = in.Fx * (d + xp*xpdddrs2 + 6*xp*in.P2 + cross*yp*in.P1)
	jac[1] = in.Fx * (ypxpdddrs2 + 2*yp*in.P2 + cross*xp*in.P1)
	jac[2] = in.Fy * (ypxpdddrs2 + 2*xp*in.P1 + cross*yp*in.P2)
	jac[3] = in.Fy * (d + yp*yp*dddrs2 + 6*yp*in.P1 + cross*xp*in.P2)
	return uv, jac, true
}

// Unproject maps a pixel back to its normalized image point. The radial
// term is inverted in closed form as a first guess, then refined by
// Gauss-Newton against Project. valid is false if the refinement leaves the
// metric radius or fails to converge.
func (in Intrinsics) Unproject(uv Point2) (xy Point2, valid bool) {
	if in.Fx == 0 || in.Fy == 0 {
		return Point2{}, false
	}

	xpd := (uv.X-in.Cx)/in.Fx - in.Codx
	ypd := (uv.Y-in.Cy)/in.Fy - in.Cody

	rs := xpd*xpd + ypd*ypd
	rss := rs * rs
	rsc := rss * rs
	a := 1 + in.K1*rs + in.K2*rss + in.K3*rsc
	b := 1 + in.K4*rs + in.K5*rss + in.K6*rsc
	ai := 1.0
	if a != 0 {
		ai = 1 / a
	}
	di := ai * b

	xy = Point2{X: xpd * di, Y: ypd * di}

	twoXY := 2 * xy.X * xy.Y
	xx := xy.X * xy.X
	yy := xy.Y * xy.Y
	xy.X -= (yy+3*xx)*in.P2 + twoXY*in.P1
	xy.Y -= (xx+3*yy)*in.P1 + twoXY*in.P2

	xy.X += in.Codx
	xy.Y += in.Cody

	return in.refine(uv, xy)
}

func (in Intrinsics) refine(uv, xy Point2) (Point2, bool) {
	best := xy
	bestErr := math.MaxFloat64

	for pass := 0; pass < unprojectMaxPasses; pass++ {
		p, jac, ok := in.project(xy, true)
		if !ok {
			return Point2{}, false
		}

		ex := uv.X - p.X
		ey := uv.Y - p.Y
		e := ex*ex + ey*ey
		if e >= bestErr {
			xy = best
			break
		}
		bestErr = e
		best = xy
		if pass+1 == unprojectMaxPasses || bestErr < unprojectConverged {
			break
		}

		det := jac[0]*jac[3] - jac[1]*jac[2]
		if det == 0 {
			break
		}
		inv := 1 / det
		xy.X += inv * (jac[3]*ex - jac[1]*ey)
		xy.Y += inv * (-jac[2]*ex + jac[0]*ey)
	}

	if bestErr > unprojectMaxError {
		return Point2{}, false
	}
	return best, true
}
