package lua

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	lua "github.com/yuin/gopher-lua"
)

func TestBridge_NumberConversion(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	b := &bridge{L: L}

	tests := []struct {
		name string
		in   lua.LNumber
		want any
	}{
		{"integer", 42, int64(42)},
		{"negative integer", -7, int64(-7)},
		{"fraction", 1.5, 1.5},
		{"min int64", lua.LNumber(math.MinInt64), int64(math.MinInt64)},
		{"two to the 63", lua.LNumber(1 << 63), float64(1 << 63)},
		{"huge", 1e300, 1e300},
		{"huge negative", -1e300, -1e300},
		{"infinity", lua.LNumber(math.Inf(1)), math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.toGo(tt.in))
		})
	}
}
