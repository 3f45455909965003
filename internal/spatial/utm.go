package spatial

import "math"

// WGS84 ellipsoid constants and the UTM scale factor.
const (
	semiMajor   = 6378137.0
	flattening  = 1 / 298.257223563
	scaleFactor = 0.9996
	falseEast   = 500000.0
	falseNorth  = 10000000.0
)

var (
	ecc2  = flattening * (2 - flattening)
	ecc4  = ecc2 * ecc2
	ecc6  = ecc4 * ecc2
	eccP2 = ecc2 / (1 - ecc2)
)

func centralMeridian(zone int) float64 {
	return float64(zone-1)*6 - 180 + 3
}

func meridianArc(phi float64) float64 {
	return semiMajor * ((1-ecc2/4-3*ecc4/64-5*ecc6/256)*phi -
		(3*ecc2/8+3*ecc4/32+45*ecc6/1024)*math.Sin(2*phi) +
		(15*ecc4/256+45*ecc6/1024)*math.Sin(4*phi) -
		(35*ecc6/3072)*math.Sin(6*phi))
}

// toUTM projects longitude/latitude (degrees) into the given zone.
func toUTM(lon, lat float64, zone int, north bool) (x, y float64) {
	phi := lat * math.Pi / 180
	dLambda := (lon - centralMeridian(zone)) * math.Pi / 180

	sinPhi, cosPhi := math.Sincos(phi)
	tanPhi := math.Tan(phi)

	n := semiMajor / math.Sqrt(1-ecc2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := eccP2 * cosPhi * cosPhi
	a := cosPhi * dLambda
	m := meridianArc(phi)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x = scaleFactor*n*(a+(1-t+c)*a3/6+(5-18*t+t*t+72*c-58*eccP2)*a5/120) + falseEast
	y = scaleFactor * (m + n*tanPhi*(a2/2+(5-t+9*c+4*c*c)*a4/24+(61-58*t+t*t+600*c-330*eccP2)*a6/720))
	if !north {
		y += falseNorth
	}
	return x, y
}

// fromUTM inverts toUTM.
func fromUTM(x, y float64, zone int, north bool) (lon, lat float64) {
	x -= falseEast
	if !north {
		y -= falseNorth
	}

	m := y / scaleFactor
	mu := m / (semiMajor * (1 - ecc2/4 - 3*ecc4/64 - 5*ecc6/256))

	sq := math.Sqrt(1 - ecc2)
	e1 := (1 - sq) / (1 + sq)
	e1sq := e1 * e1
	e1cu := e1sq * e1
	e1qu := e1cu * e1

	phi1 := mu + (3*e1/2-27*e1cu/32)*math.Sin(2*mu) +
		(21*e1sq/16-55*e1qu/32)*math.Sin(4*mu) +
		(151*e1cu/96)*math.Sin(6*mu) +
		(1097*e1qu/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	tanPhi1 := math.Tan(phi1)
	denom := 1 - ecc2*sinPhi1*sinPhi1

	n1 := semiMajor / math.Sqrt(denom)
	t1 := tanPhi1 * tanPhi1
	c1 := eccP2 * cosPhi1 * cosPhi1
	r1 := semiMajor * (1 - ecc2) / math.Pow(denom, 1.5)
	d := x / (n1 * scaleFactor)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	phi := phi1 - (n1*tanPhi1/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*eccP2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*eccP2-3*c1*c1)*d6/720)
	lambda := (d - (1+2*t1+c1)*d3/6 +
		(5-2*c1+28*t1-3*c1*c1+8*eccP2+24*t1*t1)*d5/120) / cosPhi1

	return centralMeridian(zone) + lambda*180/math.Pi, phi * 180 / math.Pi
}
