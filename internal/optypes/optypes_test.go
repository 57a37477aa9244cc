package optypes

import "testing"

func TestToStableHLO(t *testing.T) {
	for op, want := range map[OpType]string{
		FuncReturn:     "func.return",
		Return:         "stablehlo.return",
		BroadcastInDim: "stablehlo.broadcast_in_dim",
		Rsqrt:          "stablehlo.rsqrt",
		Subtract:       "stablehlo.subtract",
		Reduce:         "stablehlo.reduce",
	} {
		if got := op.ToStableHLO(); got != want {
			t.Errorf("%s.ToStableHLO() = %q, want %q", op, got, want)
		}
	}
	if got := OpType(1000).String(); got != "OpType(1000)" {
		t.Errorf("String() = %q", got)
	}
}

func TestOpTypeString(t *testing.T) {
	op, err := OpTypeString("broadcastindim")
	if err != nil || op != BroadcastInDim {
		t.Errorf("OpTypeString(\"broadcastindim\") = %s, %v", op, err)
	}
	if _, err := OpTypeString("Gather"); err == nil {
		t.Error("OpTypeString(\"Gather\") should fail")
	}
}
