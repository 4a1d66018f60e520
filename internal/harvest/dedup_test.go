package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupAccounts(t *testing.T) {
	t.Run("one record per key", func(t *testing.T) {
		in := []*Account{
			NewAccount(KindClients, "c-2", "v-1"),
			NewAccount(KindClients, "c-1", "v-1"),
			NewAccount(KindClients, "c-2", "v-2"),
			NewAccount(KindClients, "c-3", "v-2"),
		}
		out := DedupAccounts(in)
		require.Len(t, out, 3)

		ids := map[string]string{}
		for _, a := range out {
			ids[a.ExternalID] = a.ParentExternalID
		}
		assert.Equal(t, map[string]string{"c-1": "v-1", "c-2": "v-1", "c-3": "v-2"}, ids)
	})

	t.Run("survivor does not depend on input order", func(t *testing.T) {
		a := func() []*Account {
			return []*Account{NewAccount(KindClients, "c-2", "v-2"), NewAccount(KindClients, "c-2", "v-1")}
		}
		first := DedupAccounts(a())
		in := a()
		in[0], in[1] = in[1], in[0]
		second := DedupAccounts(in)
		require.Len(t, first, 1)
		require.Len(t, second, 1)
		assert.Equal(t, first[0].ParentExternalID, second[0].ParentExternalID)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, DedupAccounts(nil))
	})
}

func TestDedupUsers(t *testing.T) {
	in := []*User{
		NewUser("u-1", "c-1"),
		NewUser("u-2", "c-1"),
		NewUser("u-1", "c-2"),
	}
	out := DedupUsers(in)
	require.Len(t, out, 2)
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].Key, out[i].Key)
	}
}
