package genesis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"slotmarket/crypto"
)

func testAddress(fill byte) string {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return crypto.FormatAddress(addr)
}

func TestLoadGenesis(t *testing.T) {
	doc := "balances:\n" +
		"  - address: " + testAddress(2) + "\n" +
		"    amount: \"5000\"\n" +
		"  - address: " + testAddress(1) + "\n" +
		"    amount: \"100000000000000000000000\"\n" +
		"slots:\n" +
		"  - owner: " + testAddress(1) + "\n" +
		"    validStart: 100\n" +
		"    validEnd: 200\n" +
		"    group: 3\n" +
		"    uri: ipfs://slot\n"
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	spec, err := Load(path)
	require.NoError(t, err)

	balances := spec.BalanceAllocations()
	require.Len(t, balances, 2)
	require.Equal(t, byte(1), balances[0].Address[0], "allocations sorted by address")
	require.Equal(t, "100000000000000000005000", spec.TotalBalance().String())

	slots := spec.SlotAllocations()
	require.Len(t, slots, 1)
	require.Equal(t, uint64(3), slots[0].Group)
	require.Equal(t, "ipfs://slot", slots[0].URI)
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "validators: []\n",
		"bad address":    "balances:\n  - address: nope\n    amount: \"1\"\n",
		"negative":       "balances:\n  - address: " + testAddress(1) + "\n    amount: \"-1\"\n",
		"inverted slot":  "slots:\n  - owner: " + testAddress(1) + "\n    validStart: 5\n    validEnd: 5\n",
		"duplicate addr": "balances:\n  - address: " + testAddress(1) + "\n    amount: \"1\"\n  - address: " + testAddress(1) + "\n    amount: \"2\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}
