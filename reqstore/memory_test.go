package reqstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newState(id byte) *RequestState {
	now := time.Now()
	return &RequestState{
		RequestId:      [8]byte{id},
		CaPrefix:       "/ndn/edu/ucla",
		Status:         StatusBeforeChallenge,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Create(newState(1)))
	require.ErrorIs(t, store.Create(newState(1)), ErrAlreadyExists)
}

func TestGetUpdateDelete(t *testing.T) {
	store := NewMemoryStore()
	state := newState(2)
	require.NoError(t, store.Create(state))

	fetched, err := store.Get(state.RequestId)
	require.NoError(t, err)
	require.Equal(t, StatusBeforeChallenge, fetched.Status)

	fetched.Status = StatusChallenge
	require.NoError(t, store.Update(fetched))

	refetched, err := store.Get(state.RequestId)
	require.NoError(t, err)
	require.Equal(t, StatusChallenge, refetched.Status)

	require.NoError(t, store.Delete(state.RequestId))
	_, err = store.Get(state.RequestId)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCloneIsolatesSecrets(t *testing.T) {
	store := NewMemoryStore()
	state := newState(3)
	state.Status = StatusChallenge
	state.ChallengeState = &ChallengeState{
		Secrets:           map[string]string{"code": "000000"},
		RemainingAttempts: 3,
		SecretLifetime:    time.Minute,
		ChallengeBegin:    time.Now(),
	}
	require.NoError(t, store.Create(state))

	fetched, err := store.Get(state.RequestId)
	require.NoError(t, err)
	fetched.ChallengeState.Secrets["code"] = "tampered"

	refetched, err := store.Get(state.RequestId)
	require.NoError(t, err)
	require.Equal(t, "000000", refetched.ChallengeState.Secrets["code"])
}

func TestListExpiredCoversTerminalGraceAndChallengeTimeout(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	terminalOld := newState(4)
	terminalOld.Status = StatusFailure
	terminalOld.LastActivityAt = now.Add(-time.Hour)
	require.NoError(t, store.Create(terminalOld))

	terminalFresh := newState(5)
	terminalFresh.Status = StatusSuccess
	terminalFresh.LastActivityAt = now
	require.NoError(t, store.Create(terminalFresh))

	challengeExpired := newState(6)
	challengeExpired.Status = StatusChallenge
	challengeExpired.ChallengeState = &ChallengeState{
		SecretLifetime: time.Second,
		ChallengeBegin: now.Add(-time.Minute),
	}
	require.NoError(t, store.Create(challengeExpired))

	expired, err := store.ListExpired(now, 10*time.Minute)
	require.NoError(t, err)
	require.ElementsMatch(t, [][8]byte{terminalOld.RequestId, challengeExpired.RequestId}, expired)
}
