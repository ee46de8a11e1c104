package point

import (
	"encoding/json"
	"fmt"
	"math"
)

// JSONFloat is a float64 whose JSON form survives the IEEE special values
// encoding/json rejects. Log-likelihoods legitimately take -Inf (blank
// slots, initial contour bounds, failed callbacks), so every serialization
// boundary that carries a point uses this type for them. Finite values
// encode as plain JSON numbers.
type JSONFloat float64

// MarshalJSON implements json.Marshaler.
func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+inf"`), nil
	case math.IsNaN(v):
		return []byte(`"nan"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *JSONFloat) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "-inf":
			*f = JSONFloat(math.Inf(-1))
		case "+inf":
			*f = JSONFloat(math.Inf(1))
		case "nan":
			*f = JSONFloat(math.NaN())
		default:
			return fmt.Errorf("invalid float value %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = JSONFloat(v)
	return nil
}
