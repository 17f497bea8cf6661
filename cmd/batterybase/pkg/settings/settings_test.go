package settings_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/params"
	"github.com/evbattery/batterybase/cmd/batterybase/pkg/settings"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	wei, err := settings.ParseEther("1.5")
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(big.NewInt(15), big.NewInt(params.Ether/10)), wei)

	wei, err = settings.ParseEther("0.000000000000000001")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), wei)

	_, err = settings.ParseEther("-1")
	require.Error(t, err)

	_, err = settings.ParseEther("lots")
	require.Error(t, err)
}

func TestFormatEther(t *testing.T) {
	require.Equal(t, "0.005", settings.FormatEther(big.NewInt(5_000_000_000_000_000)))
	require.Equal(t, "0", settings.FormatEther(nil))
}
