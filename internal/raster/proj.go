package raster

import (
	"fmt"
	"math"
)

// WGS84 ellipsoid and transverse Mercator constants.
const (
	wgs84A = 6378137.0
	wgs84F = 1.0 / 298.257223563

	tmScale       = 0.9996
	tmFalseEast   = 500000.0
	tmFalseNorthS = 10000000.0

	// EPSG4326 is geographic WGS84.
	EPSG4326 = 4326
)

var (
	wgs84E2  = wgs84F * (2 - wgs84F)
	wgs84EP2 = wgs84E2 / (1 - wgs84E2)
)

// UTMEPSG returns the EPSG code of the WGS84 UTM zone.
func UTMEPSG(zone int, north bool) int {
	if north {
		return 32600 + zone
	}
	return 32700 + zone
}

// utmZoneOf splits a UTM EPSG code into zone and hemisphere.
func utmZoneOf(epsg int) (zone int, north bool, err error) {
	switch {
	case epsg >= 32601 && epsg <= 32660:
		return epsg - 32600, true, nil
	case epsg >= 32701 && epsg <= 32760:
		return epsg - 32700, false, nil
	default:
		return 0, false, fmt.Errorf("EPSG:%d is not a WGS84 UTM code", epsg)
	}
}

// centralMeridian returns the zone's central meridian in degrees.
func centralMeridian(zone int) float64 {
	return float64(zone)*6 - 183
}

// ToUTM projects geographic WGS84 coordinates into the given UTM zone.
func ToUTM(lon, lat float64, epsg int) (x, y float64, err error) {
	zone, north, err := utmZoneOf(epsg)
	if err != nil {
		return 0, 0, err
	}

	phi := lat * math.Pi / 180
	lam0 := centralMeridian(zone) * math.Pi / 180
	lam := lon * math.Pi / 180
	// Keep the longitude difference in (-pi, pi] so footprints wrapped
	// past the antimeridian project into the right zone.
	dl := math.Mod(lam-lam0+3*math.Pi, 2*math.Pi) - math.Pi

	sinP, cosP := math.Sin(phi), math.Cos(phi)
	tanP := sinP / cosP

	n := wgs84A / math.Sqrt(1-wgs84E2*sinP*sinP)
	t := tanP * tanP
	c := wgs84EP2 * cosP * cosP
	a := dl * cosP
	m := meridianArc(phi)

	x = tmFalseEast + tmScale*n*(a+
		(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*wgs84EP2)*math.Pow(a, 5)/120)

	y = tmScale * (m + n*tanP*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*wgs84EP2)*math.Pow(a, 6)/720))
	if !north {
		y += tmFalseNorthS
	}
	return x, y, nil
}

// FromUTM unprojects UTM coordinates back to geographic WGS84.
func FromUTM(x, y float64, epsg int) (lon, lat float64, err error) {
	zone, north, err := utmZoneOf(epsg)
	if err != nil {
		return 0, 0, err
	}

	e2 := wgs84E2
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	xm := x - tmFalseEast
	ym := y
	if !north {
		ym -= tmFalseNorthS
	}

	m := ym / tmScale
	mu := m / (wgs84A * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinP, cosP := math.Sin(phi1), math.Cos(phi1)
	tanP := sinP / cosP

	c1 := wgs84EP2 * cosP * cosP
	t1 := tanP * tanP
	n1 := wgs84A / math.Sqrt(1-e2*sinP*sinP)
	r1 := wgs84A * (1 - e2) / math.Pow(1-e2*sinP*sinP, 1.5)
	d := xm / (n1 * tmScale)

	phi := phi1 - (n1*tanP/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*wgs84EP2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*wgs84EP2-3*c1*c1)*math.Pow(d, 6)/720)

	lamD := (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*wgs84EP2+24*t1*t1)*math.Pow(d, 5)/120) / cosP

	lat = phi * 180 / math.Pi
	lon = centralMeridian(zone) + lamD*180/math.Pi
	if lon > 180 {
		lon -= 360
	}
	if lon < -180 {
		lon += 360
	}
	return lon, lat, nil
}

// meridianArc returns the meridian distance from the equator to phi.
func meridianArc(phi float64) float64 {
	e2 := wgs84E2
	e4 := e2 * e2
	e6 := e4 * e2
	return wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// Transform converts a coordinate between EPSG:4326 and a WGS84 UTM CRS.
// Same-CRS transforms are the identity.
func Transform(x, y float64, fromEPSG, toEPSG int) (float64, float64, error) {
	if fromEPSG == toEPSG {
		return x, y, nil
	}
	if fromEPSG == EPSG4326 {
		return ToUTM(x, y, toEPSG)
	}
	if toEPSG == EPSG4326 {
		return FromUTM(x, y, fromEPSG)
	}
	lon, lat, err := FromUTM(x, y, fromEPSG)
	if err != nil {
		return 0, 0, err
	}
	return ToUTM(lon, lat, toEPSG)
}
