package reduce

import "math"

// hc in eV·Angstrom, for photon energy to wavelength conversion.
const hcEVAngstrom = 12398.419843320026

// WavelengthFromEnergy converts a photon energy in eV to a wavelength in
// Angstrom.
func WavelengthFromEnergy(energyEV float64) (float64, error) {
	if !(energyEV > 0) || math.IsInf(energyEV, 0) {
		return 0, &DomainError{Field: "energy", Value: energyEV, Reason: "not a positive photon energy in eV"}
	}
	return hcEVAngstrom / energyEV, nil
}

// AngleToQ maps an incident angle in degrees and a wavelength in Angstrom
// to the specular momentum transfer q = (4π/λ)·sin(θ), in 1/Angstrom.
// Grazing-incidence reflectometry is physical only for angles in [0°, 90°).
func AngleToQ(angleDeg, wavelength float64) (float64, error) {
	if !(angleDeg >= 0 && angleDeg < 90) {
		return 0, &DomainError{Field: "angle", Value: angleDeg, Reason: "outside [0, 90) degrees"}
	}
	if !(wavelength > 0) || math.IsInf(wavelength, 0) {
		return 0, &DomainError{Field: "wavelength", Value: wavelength, Reason: "not a positive wavelength in Angstrom"}
	}
	return 4 * math.Pi / wavelength * math.Sin(angleDeg*math.Pi/180), nil
}
