package observation

// Indices into the 68-point iBUG landmark layout.
const (
	LandmarkCount = 68

	NoseTip = 30

	LeftEyeStart  = 36
	LeftEyeEnd    = 42 // exclusive
	RightEyeStart = 42
	RightEyeEnd   = 48 // exclusive
)

// HasFullLandmarks reports whether the observation carries the full 68-point set.
func (o *Observation) HasFullLandmarks() bool {
	return o != nil && len(o.Landmarks) >= LandmarkCount
}

// LeftEye returns the six left-eye points, or nil without a full landmark set.
func (o *Observation) LeftEye() []Point {
	if !o.HasFullLandmarks() {
		return nil
	}
	return o.Landmarks[LeftEyeStart:LeftEyeEnd]
}

// RightEye returns the six right-eye points, or nil without a full landmark set.
func (o *Observation) RightEye() []Point {
	if !o.HasFullLandmarks() {
		return nil
	}
	return o.Landmarks[RightEyeStart:RightEyeEnd]
}

// EyeMidpoint returns the point halfway between the two eye centroids.
func (o *Observation) EyeMidpoint() (Point, bool) {
	left, right := o.LeftEye(), o.RightEye()
	if left == nil || right == nil {
		return Point{}, false
	}
	l, r := centroid(left), centroid(right)
	return Point{X: (l.X + r.X) / 2, Y: (l.Y + r.Y) / 2}, true
}

// HeadPose returns the nose tip offset from the inter-eye midpoint.
func (o *Observation) HeadPose() (Point, bool) {
	mid, ok := o.EyeMidpoint()
	if !ok {
		return Point{}, false
	}
	return o.Landmarks[NoseTip].Sub(mid), true
}

func centroid(points []Point) Point {
	var c Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return Point{X: c.X / n, Y: c.Y / n}
}
