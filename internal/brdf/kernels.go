// Package brdf normalizes surface reflectance for illumination and
// viewing geometry using the Ross-Thick / Li-Sparse kernel model.
package brdf

import "math"

// fParams are the MODIS-derived spectral kernel weights. Fixed
// coefficients are used for all acquisitions (Roy et al. 2016).
type fParams struct {
	Iso, Vol, Geo float64
}

var fModisParams = map[string]fParams{
	"coastal": {Iso: 0.0774, Vol: 0.0372, Geo: 0.0079},
	"blue":    {Iso: 0.0774, Vol: 0.0372, Geo: 0.0079},
	"green":   {Iso: 0.1306, Vol: 0.0580, Geo: 0.0178},
	"red":     {Iso: 0.1690, Vol: 0.0574, Geo: 0.0227},
	"nir":     {Iso: 0.3093, Vol: 0.1535, Geo: 0.0330},
	"nir08":   {Iso: 0.3093, Vol: 0.1535, Geo: 0.0330},
	"swir16":  {Iso: 0.3430, Vol: 0.1154, Geo: 0.0453},
	"swir22":  {Iso: 0.2658, Vol: 0.0639, Geo: 0.0387},
}

// Li-Sparse crown shape ratios.
const (
	liHB = 2.0
	liBR = 1.0
)

// rossThick returns the volumetric scattering kernel. Angles are in
// radians; relAz is the relative azimuth between sun and view.
func rossThick(sunZ, viewZ, relAz float64) float64 {
	cosXi := math.Cos(sunZ)*math.Cos(viewZ) + math.Sin(sunZ)*math.Sin(viewZ)*math.Cos(relAz)
	cosXi = clamp(cosXi, -1, 1)
	xi := math.Acos(cosXi)
	return ((math.Pi/2-xi)*cosXi+math.Sin(xi))/(math.Cos(sunZ)+math.Cos(viewZ)) - math.Pi/4
}

// liSparse returns the geometric-optical shadowing kernel (reciprocal
// form). Angles are in radians.
func liSparse(sunZ, viewZ, relAz float64) float64 {
	// Equivalent angles for non-spherical crowns; b/r = 1 keeps them
	// identical to the inputs.
	ts := math.Atan(liBR * math.Tan(sunZ))
	tv := math.Atan(liBR * math.Tan(viewZ))

	cosXi := math.Cos(ts)*math.Cos(tv) + math.Sin(ts)*math.Sin(tv)*math.Cos(relAz)
	cosXi = clamp(cosXi, -1, 1)

	secTs := 1 / math.Cos(ts)
	secTv := 1 / math.Cos(tv)

	d2 := math.Tan(ts)*math.Tan(ts) + math.Tan(tv)*math.Tan(tv) -
		2*math.Tan(ts)*math.Tan(tv)*math.Cos(relAz)
	if d2 < 0 {
		d2 = 0
	}

	sinT := math.Tan(ts) * math.Tan(tv) * math.Sin(relAz)
	cosT := liHB * math.Sqrt(d2+sinT*sinT) / (secTs + secTv)
	cosT = clamp(cosT, -1, 1)
	t := math.Acos(cosT)

	overlap := (1 / math.Pi) * (t - math.Sin(t)*cosT) * (secTs + secTv)
	return overlap - secTs - secTv + 0.5*(1+cosXi)*secTs*secTv
}

// reflectanceModel evaluates the directional reflectance model for one
// band's kernel weights.
func reflectanceModel(p fParams, sunZ, viewZ, relAz float64) float64 {
	return p.Iso + p.Geo*liSparse(sunZ, viewZ, relAz) + p.Vol*rossThick(sunZ, viewZ, relAz)
}

// HLS constant sun zenith polynomial coefficients (degree 6 in
// latitude).
var hlsSunZenithPoly = [7]float64{31, -0.127, 0.0119, 2.4e-05, -9.48e-07, -1.95e-09, 6.15e-11}

// hlsSunZenith returns the normalization sun zenith in degrees for a
// latitude.
func hlsSunZenith(lat float64) float64 {
	sum := 0.0
	pow := 1.0
	for _, k := range hlsSunZenithPoly {
		sum += k * pow
		pow *= lat
	}
	return sum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
