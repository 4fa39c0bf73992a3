package geo

import "testing"

func TestHaversineKm(t *testing.T) {
	// Berlin (52.52, 13.405) to Hamburg (53.5511, 9.9937) ~ 255 km
	d := HaversineKm(52.52, 13.405, 53.5511, 9.9937)
	if d < 240 || d > 270 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineKmZero(t *testing.T) {
	if d := HaversineKm(48.1, 11.6, 48.1, 11.6); d != 0 {
		t.Fatalf("expected 0 for identical points, got %v", d)
	}
}

func TestHaversineKmShortDisplacement(t *testing.T) {
	// ~1 m north of the starting point
	d := HaversineKm(48.100000, 11.600000, 48.100009, 11.600000)
	m := d * 1000
	if m < 0.8 || m > 1.2 {
		t.Fatalf("expected ~1 m, got %v m", m)
	}
}
