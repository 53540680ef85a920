// Package api defines the artifact records attached to project tree nodes.
// These are the values exchanged with the numeric pipeline and the UI; the
// tree itself never stores them.
package api

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Geometry is the detector calibration used to remap a raw image into
// polar coordinates. Lengths are in metres, angles in radians.
type Geometry struct {
	// Distance from sample to the point of normal incidence.
	Distance float64 `json:"distance" validate:"gt=0"`
	// Wavelength of the incident beam.
	Wavelength float64 `json:"wavelength" validate:"gt=0"`
	// PixelSize1 and PixelSize2 are the pixel pitch along slow and fast axes.
	PixelSize1 float64 `json:"pixel1" validate:"gt=0"`
	PixelSize2 float64 `json:"pixel2" validate:"gt=0"`
	// Poni1 and Poni2 locate the point of normal incidence on the detector.
	Poni1 float64 `json:"poni1"`
	Poni2 float64 `json:"poni2"`
	Rot1  float64 `json:"rot1"`
	Rot2  float64 `json:"rot2"`
	Rot3  float64 `json:"rot3"`
	// Detector is an optional detector model name.
	Detector string `json:"detector,omitempty"`
}

// DefaultGeometry is the last-resort calibration used when neither a node
// override nor any folder default exists.
func DefaultGeometry() Geometry {
	return Geometry{
		Distance:   0.1,
		Wavelength: 1e-10,
		PixelSize1: 100e-6,
		PixelSize2: 100e-6,
		Detector:   "generic",
	}
}

// ROI is one region of interest drawn on an image.
type ROI struct {
	Name  string `json:"name" validate:"required"`
	Shape string `json:"shape" validate:"oneof=rect ring arc polygon"`
	// Params are shape specific: rect = x0,y0,x1,y1; ring = r0,r1;
	// arc = r0,r1,chi0,chi1; polygon = x,y pairs.
	Params []float64 `json:"params"`
}

// ROISet is the full annotation set for one image.
type ROISet struct {
	Regions []ROI `json:"regions" validate:"dive"`
}

// Peak is one fitted peak.
type Peak struct {
	Center    float64 `json:"center"`
	Amplitude float64 `json:"amplitude"`
	FWHM      float64 `json:"fwhm" validate:"gte=0"`
	// Fraction is the Lorentzian fraction for pseudo-Voigt models.
	Fraction float64 `json:"fraction,omitempty" validate:"gte=0,lte=1"`
}

// FitResult is the outcome of one fit run over an extracted profile.
type FitResult struct {
	Run        string    `json:"run"`
	Created    time.Time `json:"created"`
	Model      string    `json:"model"`
	Peaks      []Peak    `json:"peaks" validate:"dive"`
	Background []float64 `json:"background,omitempty"`
	ChiSquared float64   `json:"chi_squared"`
}

// Profile is a 1-D curve extracted from a polar image.
type Profile struct {
	// Axis is the integration axis ("2theta", "q" or "chi").
	Axis string    `json:"axis" validate:"oneof=2theta q chi"`
	Unit string    `json:"unit,omitempty"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tag constraints on a record.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %T: %w", v, err)
	}
	return nil
}

// ValidateProfile also checks that both axes have the same length.
func ValidateProfile(p Profile) error {
	if err := Validate(p); err != nil {
		return err
	}
	if len(p.X) != len(p.Y) {
		return fmt.Errorf("invalid profile: len(x)=%d, len(y)=%d", len(p.X), len(p.Y))
	}
	return nil
}
