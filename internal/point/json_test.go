package point

import (
	"encoding/json"
	"math"
	"testing"
)

func TestJSONFloatRoundTrip(t *testing.T) {
	values := []float64{0, 1.5, -2.25e10, math.Inf(-1), math.Inf(1)}
	for _, v := range values {
		data, err := json.Marshal(JSONFloat(v))
		if err != nil {
			t.Fatalf("marshal %g: %v", v, err)
		}
		var back JSONFloat
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if float64(back) != v {
			t.Errorf("round trip of %g gave %g", v, float64(back))
		}
	}
}

func TestJSONFloatNaN(t *testing.T) {
	data, err := json.Marshal(JSONFloat(math.NaN()))
	if err != nil {
		t.Fatal(err)
	}
	var back JSONFloat
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(float64(back)) {
		t.Errorf("NaN round trip gave %g", float64(back))
	}
}

func TestJSONFloatRejectsGarbage(t *testing.T) {
	var f JSONFloat
	if err := json.Unmarshal([]byte(`"typo"`), &f); err == nil {
		t.Error("expected error for an unknown string value")
	}
}
