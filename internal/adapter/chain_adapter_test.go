package adapter

import (
	"errors"
	"testing"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

func TestAdapterError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAdapterError(types.ChainTypeEVM, "Connect", cause)

	if err.Error() != "chain adapter [evm:Connect]: connection refused" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to unwrap to the underlying cause")
	}
}

func TestZeroAddress_CoversEveryChainType(t *testing.T) {
	for _, ct := range []types.ChainType{types.ChainTypeEVM, types.ChainTypeTron, types.ChainTypeSolana} {
		if ZeroAddress[ct] == "" {
			t.Errorf("expected a zero-address convention for %s", ct)
		}
	}
}
