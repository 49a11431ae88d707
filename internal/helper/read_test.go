package helper_test

import (
	"testing"

	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOwnAuthorizationsNeedsNoMetaAuth(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddAlways("org.example.x", 500, authstore.SessionState{}))

	r := &helper.ReadHelper{Store: store, Checker: fakeChecker{authorized: false}}
	dump, err := r.Dump(mustCallerSubject(), 500, 500)
	require.NoError(t, err)
	assert.Contains(t, dump, "#uid=500")
	assert.Contains(t, dump, "action-id=org.example.x")
}

func TestReadOthersRequiresMetaAuth(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddAlways("org.example.x", 600, authstore.SessionState{}))

	r := &helper.ReadHelper{Store: store, Checker: fakeChecker{authorized: false}}
	_, err := r.Dump(mustCallerSubject(), 500, 600)
	assert.Error(t, err)
}

func TestReadOthersSucceedsWithMetaAuth(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AddAlways("org.example.x", 600, authstore.SessionState{}))

	r := &helper.ReadHelper{Store: store, Checker: fakeChecker{authorized: true}}
	dump, err := r.Dump(mustCallerSubject(), 500, 600)
	require.NoError(t, err)
	assert.Contains(t, dump, "#uid=600")
}
