// Package precision defines Mode, the configured default dtype of a link, including the mixed
// precision mode where activations are computed in Float16 and parameters are kept in Float32.
package precision

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/groupnorm/types"
)

// Mode of computation: which dtype activations use, and which dtype parameters are stored in.
type Mode int

//go:generate go tool enumer -type=Mode -transform=lower -output=gen_mode_enumer.go precision.go

const (
	Float32 Mode = iota
	Float16
	BFloat16
	Float64

	// Mixed16 computes activations in Float16, while parameters are stored in Float32.
	Mixed16
)

// Compute returns the dtype activations are computed with.
func (m Mode) Compute() dtypes.DType {
	switch m {
	case Float16, Mixed16:
		return dtypes.Float16
	case BFloat16:
		return dtypes.BFloat16
	case Float64:
		return dtypes.Float64
	case Float32:
		return dtypes.Float32
	}
	return dtypes.InvalidDType
}

// Params returns the dtype parameters are stored in. It only differs from Compute for Mixed16.
func (m Mode) Params() dtypes.DType {
	if m == Mixed16 {
		return dtypes.Float32
	}
	return m.Compute()
}

// IsMixed returns whether parameters are stored with a different dtype than activations.
func (m Mode) IsMixed() bool {
	return m.Compute() != m.Params()
}

// IsReduced returns whether activations are computed in a reduced (16 bits) precision.
func (m Mode) IsReduced() bool {
	dtype := m.Compute()
	return dtype == dtypes.Float16 || dtype == dtypes.BFloat16
}

// Parse a mode name. It accepts the names returned by Mode.String, in any case, and the short
// forms "f16", "bf16", "f32", "f64".
func Parse(name string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "f16", "half":
		return Float16, nil
	case "bf16":
		return BFloat16, nil
	case "f32", "float":
		return Float32, nil
	case "f64", "double":
		return Float64, nil
	}
	m, err := ModeString(key)
	if err != nil {
		return Float32, types.ValueErrorf("unknown precision mode %q", name)
	}
	return m, nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so modes can be read from configuration files.
// It goes through Parse, so the short forms are accepted too.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
