package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/intercept-simulator/model"
)

func TestTriggerZone_FiresOnceOnEntry(t *testing.T) {
	zone, err := NewTriggerZone(kharkiv, 20000)
	if err != nil {
		t.Fatalf("NewTriggerZone() error = %v", err)
	}
	e := transitingEntity(t, belgorod, kharkiv, 2250)

	fires := 0
	fireTick := -1
	for tick := 0; tick < e.Path.Len()+10; tick++ {
		Advance(e)
		if zone.Check(e.Position) {
			fires++
			fireTick = tick
		}
	}
	if fires != 1 {
		t.Fatalf("zone fired %d times, want 1", fires)
	}

	// The fire tick is the first sample within 20 km of the destination.
	for i := 1; i <= fireTick; i++ {
		if DistanceMeters(e.Path.At(i), kharkiv) <= 20000 {
			t.Fatalf("sample %d is already inside the zone but fire happened at tick %d", i, fireTick)
		}
	}
	if d := DistanceMeters(e.Path.At(fireTick+1), kharkiv); d > 20000 {
		t.Fatalf("fire sample is %.1f m from center, want <= 20000", d)
	}
	if zone.Armed() {
		t.Fatalf("zone still armed after firing")
	}
}

func TestTriggerZone_Rearm(t *testing.T) {
	zone, err := NewTriggerZone(kharkiv, 1000)
	if err != nil {
		t.Fatalf("NewTriggerZone() error = %v", err)
	}
	if !zone.Check(kharkiv) {
		t.Fatalf("expected first check inside zone to fire")
	}
	if zone.Check(kharkiv) {
		t.Fatalf("expected second check to stay silent")
	}
	zone.Rearm()
	if !zone.Check(kharkiv) {
		t.Fatalf("expected rearmed zone to fire again")
	}
}

func TestTriggerZone_OutsideNeverFires(t *testing.T) {
	zone, _ := NewTriggerZone(kharkiv, 1000)
	if zone.Check(belgorod) {
		t.Fatalf("zone fired for a position outside the radius")
	}
	if !zone.Armed() {
		t.Fatalf("zone disarmed without firing")
	}
}

func TestNewTriggerZone_Invalid(t *testing.T) {
	if _, err := NewTriggerZone(kharkiv, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero radius, got %v", err)
	}
	if _, err := NewTriggerZone(model.Position{Lat: 100}, 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad center, got %v", err)
	}
}
