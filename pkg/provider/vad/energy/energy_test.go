package energy_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/murmur/pkg/provider/vad"
	"github.com/MrWong99/murmur/pkg/provider/vad/energy"
)

const eps = 1e-9

func TestHistory_EvictsOldest(t *testing.T) {
	t.Parallel()

	h := energy.NewHistory(10)
	for i := range 25 {
		h.Push(float64(i))
		if h.Len() > 10 {
			t.Fatalf("history length %d exceeds capacity", h.Len())
		}
	}
	got := h.Values()
	if got[0] != 15 || got[len(got)-1] != 24 {
		t.Errorf("history = %v, want 15..24", got)
	}
	h.Reset()
	if h.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", h.Len())
	}
}

func TestUpdateNoiseFloor(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()

	t.Run("too few samples leaves floor unchanged", func(t *testing.T) {
		t.Parallel()
		for n := range 8 {
			hist := make([]float64, n)
			for i := range hist {
				hist[i] = -20
			}
			if got := energy.UpdateNoiseFloor(-60, hist, cfg); got != -60 {
				t.Errorf("n=%d: floor = %v, want -60", n, got)
			}
		}
	})

	t.Run("uses lower quartile", func(t *testing.T) {
		t.Parallel()
		hist := []float64{-30, -70, -50, -40, -60, -35, -45, -55, -65, -20}
		// sorted: -70 -65 -60 -55 -50 -45 -40 -35 -30 -20; index 2 -> -60
		want := -60*0.98 + -60*0.02
		if got := energy.UpdateNoiseFloor(-60, hist, cfg); math.Abs(got-want) > eps {
			t.Errorf("floor = %v, want %v", got, want)
		}
	})

	t.Run("clamped at minimum", func(t *testing.T) {
		t.Parallel()
		hist := []float64{-160, -160, -160, -160, -160, -160, -160, -160}
		if got := energy.UpdateNoiseFloor(-80, hist, cfg); got != -80 {
			t.Errorf("floor = %v, want -80", got)
		}
	})

	t.Run("bounded by history extremes", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewPCG(1, 2))
		for range 500 {
			n := 8 + rng.IntN(3)
			hist := make([]float64, n)
			lo, hi := math.Inf(1), math.Inf(-1)
			for i := range hist {
				hist[i] = -90 + rng.Float64()*90
				lo, hi = min(lo, hist[i]), max(hi, hist[i])
			}
			old := -80 + rng.Float64()*60
			got := energy.UpdateNoiseFloor(old, hist, cfg)
			if got < -80 {
				t.Fatalf("floor %v below -80", got)
			}
			low := max(old*0.98+lo*0.02, -80)
			high := max(old*0.98+hi*0.02, -80)
			if got < low-eps || got > high+eps {
				t.Fatalf("floor %v outside [%v, %v] (old=%v hist=%v)", got, low, high, old, hist)
			}
		}
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()

	tests := []struct {
		name       string
		level      float64
		floor      float64
		history    []float64
		wantSpeech bool
		wantRecent int
	}{
		{name: "at threshold is not speech", level: -48, floor: -60, wantSpeech: false},
		{name: "just above threshold", level: -47.9, floor: -60, wantSpeech: true},
		{name: "min threshold applies to low floor", level: -51, floor: -75, wantSpeech: false},
		{name: "quiet level under both gates", level: -56, floor: -80, wantSpeech: false},
		{
			name:       "recent high counts history",
			level:      -30,
			floor:      -60,
			history:    []float64{-60, -40, -70, -30, -47},
			wantSpeech: true,
			wantRecent: 3,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			speech, recent := energy.Classify(tc.level, tc.floor, tc.history, cfg)
			if speech != tc.wantSpeech {
				t.Errorf("isSpeechLevel = %v, want %v", speech, tc.wantSpeech)
			}
			if recent != tc.wantRecent {
				t.Errorf("recentHigh = %d, want %d", recent, tc.wantRecent)
			}
		})
	}
}

func TestClassify_NeverSpeechBelowThreshold(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()
	rng := rand.New(rand.NewPCG(3, 4))
	for range 1000 {
		floor := -80 + rng.Float64()*70
		threshold := max(floor+12, -50)
		level := threshold - rng.Float64()*40
		if speech, _ := energy.Classify(level, floor, nil, cfg); speech {
			t.Fatalf("level %v <= threshold %v classified as speech", level, threshold)
		}
	}
}

func TestDetector_ConfirmsSpeechAfterCorroboration(t *testing.T) {
	t.Parallel()

	d := energy.NewDetector(vad.Config{})
	levels := []float64{-60, -58, -55, -52, -40, -38, -36, -35, -34, -33}
	var types []vad.EventType
	for _, l := range levels {
		dec, err := d.ProcessLevel(l)
		if err != nil {
			t.Fatalf("ProcessLevel: %v", err)
		}
		types = append(types, dec.Type)
	}

	want := []vad.EventType{
		vad.EventSilence, vad.EventSilence, vad.EventSilence, vad.EventSilence,
		vad.EventSilence, // -40: above threshold but only one high sample in history
		vad.EventSpeechCandidate,
		vad.EventSpeechStart,
		vad.EventSpeechContinue, vad.EventSpeechContinue, vad.EventSpeechContinue,
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("frame %d (%v dB): type = %v, want %v", i, levels[i], types[i], want[i])
		}
	}
	if f := d.NoiseFloor(); f > -58 || f < -61 {
		t.Errorf("noise floor = %v, want close to -60", f)
	}
}

func TestDetector_SingleSpikeIgnored(t *testing.T) {
	t.Parallel()

	d := energy.NewDetector(vad.Config{})
	for _, l := range []float64{-65, -65, -20, -65, -65, -65} {
		dec, _ := d.ProcessLevel(l)
		if dec.Confident() {
			t.Fatalf("level %v classified as confident speech", l)
		}
	}
}

func TestDetector_CounterNeverNegative(t *testing.T) {
	t.Parallel()

	d := energy.NewDetector(vad.Config{})
	rng := rand.New(rand.NewPCG(5, 6))
	for i := range 5000 {
		level := -90 + rng.Float64()*90
		if rng.IntN(4) == 0 {
			level = -20
		}
		dec, _ := d.ProcessLevel(level)
		if dec.Counter < 0 {
			t.Fatalf("iteration %d: counter = %d", i, dec.Counter)
		}
		if i%97 == 0 {
			d.EndSegment()
		}
	}
}

func TestDetector_EndSegmentKeepsFloorResetRestoresIt(t *testing.T) {
	t.Parallel()

	d := energy.NewDetector(vad.Config{})
	for range 50 {
		if _, err := d.ProcessLevel(-75); err != nil {
			t.Fatal(err)
		}
	}
	adapted := d.NoiseFloor()
	if adapted >= -60 {
		t.Fatalf("floor did not adapt downward: %v", adapted)
	}

	d.EndSegment()
	if d.NoiseFloor() != adapted {
		t.Errorf("EndSegment changed floor to %v, want %v", d.NoiseFloor(), adapted)
	}
	dec, _ := d.ProcessLevel(-75)
	if dec.NoiseFloor != adapted {
		t.Errorf("floor moved with a single-sample history: %v", dec.NoiseFloor)
	}

	d.Reset()
	if d.NoiseFloor() != -60 {
		t.Errorf("Reset floor = %v, want -60", d.NoiseFloor())
	}
}

func TestDetector_Closed(t *testing.T) {
	t.Parallel()

	eng := energy.New()
	sess, err := eng.NewSession(vad.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.ProcessLevel(-40); err == nil {
		t.Error("expected error after Close")
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}
