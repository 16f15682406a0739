package geo

import (
	"math"
	"testing"
)

func TestDistanceKm(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         Point{Lat: 40.0, Lng: -75.0},
			b:         Point{Lat: 40.0, Lng: -75.0},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "philadelphia to new york",
			a:         Point{Lat: 39.9526, Lng: -75.1652},
			b:         Point{Lat: 40.7128, Lng: -74.0060},
			wantKm:    130,
			tolerance: 5,
		},
		{
			name:      "london to paris",
			a:         Point{Lat: 51.5074, Lng: -0.1278},
			b:         Point{Lat: 48.8566, Lng: 2.3522},
			wantKm:    344,
			tolerance: 5,
		},
		{
			name:      "antipodal-ish",
			a:         Point{Lat: 0, Lng: 0},
			b:         Point{Lat: 0, Lng: 180},
			wantKm:    math.Pi * earthRadiusKm,
			tolerance: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("DistanceKm = %.2f, want %.2f +/- %.2f", got, tt.wantKm, tt.tolerance)
			}
			// Distance is symmetric.
			if back := DistanceKm(tt.b, tt.a); math.Abs(back-got) > 1e-9 {
				t.Errorf("asymmetric distance: %v vs %v", got, back)
			}
		})
	}
}

func TestWithinKm(t *testing.T) {
	center := Point{Lat: 40.0, Lng: -75.0}
	near := Point{Lat: 40.2, Lng: -75.1}   // ~24 km
	far := Point{Lat: 42.0, Lng: -75.0}    // ~222 km

	if !WithinKm(center, near, 100) {
		t.Error("expected near point within 100km")
	}
	if WithinKm(center, far, 100) {
		t.Error("expected far point outside 100km")
	}
}
